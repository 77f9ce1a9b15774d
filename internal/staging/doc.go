// Package staging removes aged entries from working directories.
//
// The engine workspace and the download store both accumulate files that a
// crashed or interrupted process can leave behind; CleanStale reclaims them
// on startup and on the daemon's sweep interval.
package staging
