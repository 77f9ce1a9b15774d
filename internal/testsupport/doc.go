// Package testsupport holds shared fixtures for package tests: a config
// builder rooted in per-test temp directories and an in-memory engine.
//
// It must not import convert or anything that does (history, daemon, api),
// since convert's in-package tests depend on it.
package testsupport
