// Package history persists a record of every conversion job in SQLite.
//
// Store opens the database in WAL mode with a busy timeout, creates the
// embedded schema on first use, and refuses to run against a database
// written by a different schema version. It implements convert.Observer so
// the runner reports job lifecycle events straight into it; rows left in a
// non-terminal stage by a crash are marked failed by ResetInterrupted when
// the daemon starts.
package history
