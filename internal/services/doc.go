// Package services defines shared utilities consumed by the conversion runner,
// the engine adapters, and the HTTP surface.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, and KindOf which folds
//     any wrapped failure into the conversion error taxonomy
//     (invalid_input, engine_load, staging, processing, output_missing,
//     job_in_progress).
//
// Use these helpers when wiring new stage logic so failures stay classified
// the same way from the runner to the API response.
package services
