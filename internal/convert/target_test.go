package convert

import (
	"slices"
	"testing"

	"toolbox/internal/config"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		spec CommandSpec
		want []string
	}{
		{
			name: "mp3 default quality",
			spec: CommandSpec{Format: "mp3"},
			want: []string{"-i", "in", "-vn", "-c:a", "libmp3lame", "-q:a", "2", "out"},
		},
		{
			name: "mp3 explicit best quality",
			spec: CommandSpec{Format: ".MP3", Quality: Quality(0)},
			want: []string{"-i", "in", "-vn", "-c:a", "libmp3lame", "-q:a", "0", "out"},
		},
		{
			name: "m4a bitrate",
			spec: CommandSpec{Format: "m4a", Bitrate: "256K"},
			want: []string{"-i", "in", "-vn", "-c:a", "aac", "-b:a", "256k", "out"},
		},
		{
			name: "wav has no quality",
			spec: CommandSpec{Format: "wav"},
			want: []string{"-i", "in", "-vn", "-c:a", "pcm_s16le", "out"},
		},
		{
			name: "mp4 with codec override",
			spec: CommandSpec{Format: "mp4", VideoCodec: "libx265", Quality: Quality(28)},
			want: []string{"-i", "in", "-c:v", "libx265", "-c:a", "aac", "-crf", "28", "-pix_fmt", "yuv420p", "-movflags", "+faststart", "out"},
		},
		{
			name: "gif drops audio",
			spec: CommandSpec{Format: "gif"},
			want: []string{"-i", "in", "-an", "-c:v", "gif", "-vf", "fps=10,scale=480:-1:flags=lanczos", "out"},
		},
		{
			name: "extra args pass through",
			spec: CommandSpec{Format: "ogg", ExtraArgs: []string{"-ac", "1"}},
			want: []string{"-i", "in", "-vn", "-c:a", "libvorbis", "-q:a", "5", "-ac", "1", "out"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildArgs(tt.spec, "in", "out")
			if err != nil {
				t.Fatalf("BuildArgs: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("got  %v\nwant %v", got, tt.want)
			}
		})
	}
}

func TestCommandSpecValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		spec CommandSpec
	}{
		{"unknown format", CommandSpec{Format: "avi"}},
		{"empty format", CommandSpec{}},
		{"quality too high", CommandSpec{Format: "mp3", Quality: Quality(10)}},
		{"quality negative", CommandSpec{Format: "mp4", Quality: Quality(-1)}},
		{"quality on wav", CommandSpec{Format: "wav", Quality: Quality(1)}},
		{"bitrate on mp3", CommandSpec{Format: "mp3", Bitrate: "192k"}},
		{"bad bitrate", CommandSpec{Format: "m4a", Bitrate: "fast"}},
		{"video codec on audio", CommandSpec{Format: "mp3", VideoCodec: "libx264"}},
		{"audio codec on gif", CommandSpec{Format: "gif", AudioCodec: "aac"}},
		{"codec injection", CommandSpec{Format: "mp3", AudioCodec: "libmp3lame -f"}},
		{"extra input", CommandSpec{Format: "mp3", ExtraArgs: []string{"-i", "x"}}},
		{"extra path", CommandSpec{Format: "mp3", ExtraArgs: []string{"/etc/passwd"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.spec.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		input, format, want string
	}{
		{"clip.mp4", "mp3", "clip.mp3"},
		{"My Video.MOV", "webm", "My Video.webm"},
		{"song", "flac", "song.flac"},
		{"", "gif", "output.gif"},
		{"a/b:c.wav", "m4a", "b-c.m4a"},
	}
	for _, tt := range tests {
		if got := OutputName(tt.input, tt.format); got != tt.want {
			t.Errorf("OutputName(%q, %q) = %q, want %q", tt.input, tt.format, got, tt.want)
		}
	}
}

func TestMIMETypes(t *testing.T) {
	want := map[string]string{
		"mp3": "audio/mp3", "wav": "audio/wav", "ogg": "audio/ogg", "m4a": "audio/mp4",
		"flac": "audio/flac", "mp4": "video/mp4", "webm": "video/webm", "gif": "image/gif",
	}
	for format, mime := range want {
		target, ok := LookupTarget(format)
		if !ok || target.MIMEType != mime {
			t.Errorf("%s: got %q (ok=%v), want %q", format, target.MIMEType, ok, mime)
		}
	}
}

func TestConfigFormatsAreKnownTargets(t *testing.T) {
	for _, format := range config.SupportedFormats {
		if _, ok := LookupTarget(format); !ok {
			t.Errorf("config format %q has no conversion target", format)
		}
	}
	if len(Formats()) != len(config.SupportedFormats) {
		t.Errorf("targets %v and config formats %v differ", Formats(), config.SupportedFormats)
	}
}

func TestCommandSpecWithDefaults(t *testing.T) {
	got := CommandSpec{}.WithDefaults("mp3", 4)
	if got.Format != "mp3" || got.Quality == nil || *got.Quality != 4 {
		t.Fatalf("unexpected defaults %+v", got)
	}

	explicit := CommandSpec{Format: "ogg"}.WithDefaults("mp3", 4)
	if explicit.Format != "ogg" || explicit.Quality != nil {
		t.Fatalf("explicit format must keep its own default, got %+v", explicit)
	}

	outOfRange := CommandSpec{}.WithDefaults("mp3", 40)
	if outOfRange.Quality != nil {
		t.Fatalf("out-of-range default must be ignored, got %d", *outOfRange.Quality)
	}

	wav := CommandSpec{}.WithDefaults("wav", 2)
	if wav.Quality != nil {
		t.Fatal("wav takes no quality")
	}
}
