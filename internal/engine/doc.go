// Package engine defines the media engine contract and its process-wide loader.
//
// Engine is the capability set the conversion runner depends on: load, a flat
// virtual filesystem (write, read, delete), command execution, and shared
// progress/log callbacks. FFmpeg implements it over a locked workspace
// directory. Loader wraps any Engine so that initialization happens once per
// process, concurrent callers join the same attempt, and failures stay
// retryable.
package engine
