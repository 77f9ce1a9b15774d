// Package metrics exposes Prometheus collectors for the conversion daemon.
//
// Collectors live on a private registry so tests and multiple daemons in one
// process do not collide. Metrics implements convert.Observer and provides
// an engine load hook and an image compression recorder; Handler serves the
// registry in the Prometheus text format.
package metrics
