package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"clip.mp4", "clip.mp4"},
		{"  a/b:c*d?.mp3 ", "a-b-c-d.mp3"},
		{"..hidden..", "hidden"},
		{"tab\tname", "tabname"},
		{"Cafe\u0301", "Caf\u00e9"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStem(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"clip.mp4", "clip"},
		{"/tmp/videos/My Clip.MOV", "My Clip"},
		{`C:\Users\me\song.wav`, "song"},
		{"noext", "noext"},
		{".mp4", "output"},
		{"", "output"},
	}
	for _, tt := range tests {
		if got := Stem(tt.in); got != tt.want {
			t.Errorf("Stem(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("Hello World!"); got != "hello_world" {
		t.Fatalf("got %q", got)
	}
	if got := SanitizeToken("  "); got != "unknown" {
		t.Fatalf("got %q", got)
	}
}
