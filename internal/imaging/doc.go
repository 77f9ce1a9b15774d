// Package imaging compresses still images in-process.
//
// Compress decodes JPEG, PNG, GIF, or WebP input, optionally downsizes it so
// the longest side fits a limit using Catmull-Rom resampling, and re-encodes
// it as JPEG or PNG. It does not use the conversion engine and never touches
// the engine workspace.
package imaging
