package convert

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"toolbox/internal/textutil"
)

// Target describes one output format the runner can produce.
type Target struct {
	Format      string
	Extension   string
	MIMEType    string
	AudioOnly   bool
	VideoOnly   bool
	AudioCodec  string
	VideoCodec  string
	QualityFlag string
	QualityMin  int
	QualityMax  int
	QualityDef  int
	BitrateFlag string
	BitrateDef  string
	Extra       []string
}

// HasQuality reports whether the target accepts a quality setting.
func (t Target) HasQuality() bool { return t.QualityFlag != "" }

var targets = map[string]Target{
	"mp3": {
		Format: "mp3", Extension: "mp3", MIMEType: "audio/mp3", AudioOnly: true,
		AudioCodec: "libmp3lame", QualityFlag: "-q:a", QualityMin: 0, QualityMax: 9, QualityDef: 2,
	},
	"wav": {
		Format: "wav", Extension: "wav", MIMEType: "audio/wav", AudioOnly: true,
		AudioCodec: "pcm_s16le",
	},
	"ogg": {
		Format: "ogg", Extension: "ogg", MIMEType: "audio/ogg", AudioOnly: true,
		AudioCodec: "libvorbis", QualityFlag: "-q:a", QualityMin: 0, QualityMax: 10, QualityDef: 5,
	},
	"m4a": {
		Format: "m4a", Extension: "m4a", MIMEType: "audio/mp4", AudioOnly: true,
		AudioCodec: "aac", BitrateFlag: "-b:a", BitrateDef: "192k",
	},
	"flac": {
		Format: "flac", Extension: "flac", MIMEType: "audio/flac", AudioOnly: true,
		AudioCodec: "flac", QualityFlag: "-compression_level", QualityMin: 0, QualityMax: 12, QualityDef: 5,
	},
	"mp4": {
		Format: "mp4", Extension: "mp4", MIMEType: "video/mp4",
		VideoCodec: "libx264", AudioCodec: "aac", QualityFlag: "-crf", QualityMin: 0, QualityMax: 51, QualityDef: 23,
		Extra: []string{"-pix_fmt", "yuv420p", "-movflags", "+faststart"},
	},
	"webm": {
		Format: "webm", Extension: "webm", MIMEType: "video/webm",
		VideoCodec: "libvpx-vp9", AudioCodec: "libopus", QualityFlag: "-crf", QualityMin: 0, QualityMax: 63, QualityDef: 32,
		Extra: []string{"-b:v", "0"},
	},
	"gif": {
		Format: "gif", Extension: "gif", MIMEType: "image/gif", VideoOnly: true,
		VideoCodec: "gif", Extra: []string{"-vf", "fps=10,scale=480:-1:flags=lanczos"},
	},
}

// LookupTarget returns the target for a format name ("mp3", ".MP3").
func LookupTarget(format string) (Target, bool) {
	t, ok := targets[normalizeFormat(format)]
	return t, ok
}

// Formats returns the supported format names, sorted.
func Formats() []string {
	out := make([]string, 0, len(targets))
	for name := range targets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeFormat(format string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
}

// CommandSpec describes the requested output. Zero values select the target
// defaults; Quality is a pointer because 0 is a meaningful setting for
// several codecs.
type CommandSpec struct {
	Format     string   `json:"format"`
	AudioCodec string   `json:"audio_codec,omitempty"`
	VideoCodec string   `json:"video_codec,omitempty"`
	Quality    *int     `json:"quality,omitempty"`
	Bitrate    string   `json:"bitrate,omitempty"`
	ExtraArgs  []string `json:"extra_args,omitempty"`
}

// Quality returns a pointer to q for use in CommandSpec literals.
func Quality(q int) *int { return &q }

var (
	codecPattern   = regexp.MustCompile(`^[a-z0-9_\-]+$`)
	bitratePattern = regexp.MustCompile(`^[1-9][0-9]{0,4}k$`)
)

// WithDefaults fills an empty Format with format. Only in that case is an
// unset Quality filled with quality, and only when the default target accepts
// that value; an explicit format keeps its own target default.
func (s CommandSpec) WithDefaults(format string, quality int) CommandSpec {
	if strings.TrimSpace(s.Format) != "" {
		return s
	}
	s.Format = format
	if s.Quality != nil {
		return s
	}
	if t, ok := LookupTarget(format); ok && t.HasQuality() && quality >= t.QualityMin && quality <= t.QualityMax {
		s.Quality = Quality(quality)
	}
	return s
}

// Validate checks the command against its target.
func (s CommandSpec) Validate() error {
	target, ok := LookupTarget(s.Format)
	if !ok {
		return fmt.Errorf("unsupported format %q (supported: %s)", s.Format, strings.Join(Formats(), ", "))
	}
	if s.AudioCodec != "" {
		if target.VideoOnly {
			return fmt.Errorf("format %s carries no audio; audio codec not allowed", target.Format)
		}
		if !codecPattern.MatchString(s.AudioCodec) {
			return fmt.Errorf("invalid audio codec %q", s.AudioCodec)
		}
	}
	if s.VideoCodec != "" {
		if target.AudioOnly {
			return fmt.Errorf("format %s is audio-only; video codec not allowed", target.Format)
		}
		if !codecPattern.MatchString(s.VideoCodec) {
			return fmt.Errorf("invalid video codec %q", s.VideoCodec)
		}
	}
	if s.Quality != nil {
		if !target.HasQuality() {
			return fmt.Errorf("format %s does not accept a quality setting", target.Format)
		}
		if q := *s.Quality; q < target.QualityMin || q > target.QualityMax {
			return fmt.Errorf("quality %d out of range %d-%d for %s", q, target.QualityMin, target.QualityMax, target.Format)
		}
	}
	if s.Bitrate != "" {
		if target.BitrateFlag == "" {
			return fmt.Errorf("format %s does not accept a bitrate setting", target.Format)
		}
		if !bitratePattern.MatchString(strings.ToLower(s.Bitrate)) {
			return fmt.Errorf("invalid bitrate %q (expected e.g. 192k)", s.Bitrate)
		}
	}
	for _, arg := range s.ExtraArgs {
		switch {
		case arg == "-i", arg == "-y", arg == "-n":
			return fmt.Errorf("extra argument %q not allowed", arg)
		case strings.ContainsAny(arg, `/\`):
			return fmt.Errorf("extra argument %q must not reference paths", arg)
		}
	}
	return nil
}

// BuildArgs returns the engine argv that converts input into output.
func BuildArgs(spec CommandSpec, input, output string) ([]string, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	target, _ := LookupTarget(spec.Format)

	args := []string{"-i", input}
	switch {
	case target.AudioOnly:
		args = append(args, "-vn")
	case target.VideoOnly:
		args = append(args, "-an")
	}
	if codec := firstNonEmpty(spec.VideoCodec, target.VideoCodec); codec != "" && !target.AudioOnly {
		args = append(args, "-c:v", codec)
	}
	if codec := firstNonEmpty(spec.AudioCodec, target.AudioCodec); codec != "" && !target.VideoOnly {
		args = append(args, "-c:a", codec)
	}
	if target.HasQuality() {
		q := target.QualityDef
		if spec.Quality != nil {
			q = *spec.Quality
		}
		args = append(args, target.QualityFlag, strconv.Itoa(q))
	}
	if target.BitrateFlag != "" {
		args = append(args, target.BitrateFlag, firstNonEmpty(strings.ToLower(spec.Bitrate), target.BitrateDef))
	}
	args = append(args, target.Extra...)
	args = append(args, spec.ExtraArgs...)
	return append(args, output), nil
}

// OutputName derives the download name for a converted input ("clip.mp4" -> "clip.mp3").
func OutputName(inputName, format string) string {
	ext := normalizeFormat(format)
	if t, ok := LookupTarget(format); ok {
		ext = t.Extension
	}
	return textutil.Stem(inputName) + "." + ext
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
