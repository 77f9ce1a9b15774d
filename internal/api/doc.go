// Package api defines the wire-format types shared by the toolboxd HTTP
// server and its clients, plus a small HTTP client used by the CLI.
//
// # Key Types
//
// Job: transport representation of a live job snapshot or a history row,
// with the error payload reduced to {kind, message, stage}.
//
// DaemonStatus: daemon running state, engine readiness, dependency health,
// host memory, and the current job.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for browser consumers. Timestamps use RFC3339
// with milliseconds. Converters live here so internal packages never need to
// know about the wire format.
package api
