// Package deps checks that the external binaries toolbox shells out to are
// installed, and resolves ffprobe alongside the configured ffmpeg.
package deps
