// Package main hosts the toolbox CLI entrypoint and command graph.
//
// The Cobra command tree runs conversions and image compression in-process,
// inspects and prunes the shared job history, reports the health of the local
// environment and of a running toolboxd, and scaffolds configuration. It
// centralizes configuration resolution and logger setup so subcommands only
// deal with presentation.
//
// Keep this package lean: new behavior belongs in the internal packages first
// and is surfaced here through dedicated commands or flags.
package main
