// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// The engine uses Inspect to learn an input's duration before running a
// conversion so that ffmpeg's out_time progress can be turned into a
// percentage.
package ffprobe
