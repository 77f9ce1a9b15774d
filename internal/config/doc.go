// Package config loads, normalizes, and validates toolbox configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TOOLBOX_API_TOKEN and TOOLBOX_FFMPEG. The Config type centralizes every knob
// the daemon and CLI need, so workspace and download directories, engine
// binaries, and conversion limits are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
