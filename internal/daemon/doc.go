// Package daemon coordinates the long-running toolbox process.
//
// It wires configuration, the engine loader, the job runner, the conversion
// history, the download store and the metrics registry into a single lifecycle
// with flock-based locking to prevent multiple instances. The HTTP API lives
// here too: job submission and status, progress streaming over Server-Sent
// Events, downloads, image compression, and /metrics.
//
// Keep orchestration logic here: conversion steps belong to the convert
// package while the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
