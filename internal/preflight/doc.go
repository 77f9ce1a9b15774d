// Package preflight runs environment checks before the daemon or CLI does
// real work: directory access, free space in the engine workspace, and the
// availability of the engine binaries. It also samples host memory for the
// status endpoint.
package preflight
