package deps

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveFFprobe returns the ffprobe binary that pairs with ffmpegBinary.
//
// An explicit ffprobe setting wins. Otherwise an ffprobe that sits next to the
// resolved ffmpeg executable is preferred, so a bundled static build keeps its
// matching prober, and "ffprobe" from PATH is the fallback.
func ResolveFFprobe(ffmpegBinary, ffprobeBinary string) string {
	if explicit := strings.TrimSpace(ffprobeBinary); explicit != "" {
		return explicit
	}
	ffmpegBinary = strings.TrimSpace(ffmpegBinary)
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	if resolved, err := exec.LookPath(ffmpegBinary); err == nil {
		candidate := filepath.Join(filepath.Dir(resolved), executableName("ffprobe"))
		if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
			return candidate
		}
	}
	return "ffprobe"
}

// EngineRequirements lists the binaries the conversion engine needs.
func EngineRequirements(ffmpegBinary, ffprobeBinary string) []Requirement {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     ffmpegBinary,
			Description: "Required for media conversion",
		},
		{
			Name:        "FFprobe",
			Command:     ResolveFFprobe(ffmpegBinary, ffprobeBinary),
			Description: "Used for progress reporting; conversions run without percentages when missing",
			Optional:    true,
		},
	}
}

func executableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
