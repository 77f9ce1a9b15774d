package imaging

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"toolbox/internal/services"
)

func gradientPNG(t *testing.T, w, h int, alpha uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: alpha})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestCompressPNGToJPEG(t *testing.T) {
	data := gradientPNG(t, 64, 32, 255)
	res, err := Compress(context.Background(), Input{Name: "photo.png", Data: data}, Options{Quality: 70})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Name != "photo.jpg" || res.MIMEType != "image/jpeg" || res.SourceFormat != "png" {
		t.Fatalf("unexpected result metadata %+v", res)
	}
	if res.OriginalSize != int64(len(data)) || res.CompressedSize != int64(len(res.Data)) {
		t.Fatalf("sizes not reported: %+v", res)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("output is not jpeg: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 32 {
		t.Fatalf("unexpected output size %dx%d", cfg.Width, cfg.Height)
	}
}

func TestCompressResizesLongestSide(t *testing.T) {
	data := gradientPNG(t, 200, 100, 255)
	res, err := Compress(context.Background(), Input{Name: "wide.png", Data: data}, Options{Format: "png", MaxDimension: 50})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Width != 50 || res.Height != 25 || res.OriginalWidth != 200 || res.OriginalHeight != 100 {
		t.Fatalf("unexpected dimensions %+v", res)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("output is not png: %v", err)
	}
	if cfg.Width != 50 || cfg.Height != 25 {
		t.Fatalf("encoded dimensions %dx%d", cfg.Width, cfg.Height)
	}
}

func TestCompressEncodesWebP(t *testing.T) {
	data := gradientPNG(t, 120, 60, 255)
	res, err := Compress(context.Background(), Input{Name: "banner.png", Data: data}, Options{Format: "webp", Quality: 70, MaxDimension: 60})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Name != "banner.webp" || res.Format != "webp" || res.MIMEType != "image/webp" {
		t.Fatalf("unexpected result %+v", res)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("output does not decode: %v", err)
	}
	if format != "webp" || cfg.Width != 60 || cfg.Height != 30 {
		t.Fatalf("decoded %s %dx%d", format, cfg.Width, cfg.Height)
	}

	again, err := Compress(context.Background(), Input{Name: "banner.webp", Data: res.Data}, Options{Format: "png"})
	if err != nil {
		t.Fatalf("re-compress webp input: %v", err)
	}
	if again.SourceFormat != "webp" || again.Width != 60 {
		t.Fatalf("unexpected round trip %+v", again)
	}
}

func TestCompressFlattensTransparencyForJPEG(t *testing.T) {
	data := gradientPNG(t, 8, 8, 0)
	res, err := Compress(context.Background(), Input{Name: "clear.png", Data: data}, Options{Quality: 100})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, _ := img.At(4, 4).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Fatalf("transparent pixels should become white, got %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestCompressRejectsInvalidInput(t *testing.T) {
	valid := gradientPNG(t, 4, 4, 255)
	tests := []struct {
		name  string
		input Input
		opts  Options
	}{
		{"empty", Input{Name: "a.png"}, Options{}},
		{"garbage", Input{Name: "a.png", Data: []byte("not an image")}, Options{}},
		{"unknown output", Input{Name: "a.png", Data: valid}, Options{Format: "bmp"}},
		{"quality too high", Input{Name: "a.png", Data: valid}, Options{Quality: 101}},
		{"too large", Input{Name: "a.png", Data: valid}, Options{MaxInputBytes: 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compress(context.Background(), tt.input, tt.opts)
			if services.KindOf(err) != services.KindInvalidInput {
				t.Fatalf("expected invalid_input, got %v", err)
			}
		})
	}
}

func TestCompressHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compress(ctx, Input{Name: "a.png", Data: gradientPNG(t, 4, 4, 255)}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, limit  int
		wantW, wantH int
	}{
		{100, 50, 0, 100, 50},
		{100, 50, 200, 100, 50},
		{200, 100, 50, 50, 25},
		{100, 300, 150, 50, 150},
		{1000, 1, 10, 10, 1},
	}
	for _, tt := range tests {
		w, h := FitWithin(tt.w, tt.h, tt.limit)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("FitWithin(%d,%d,%d) = %d,%d want %d,%d", tt.w, tt.h, tt.limit, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestResultRatio(t *testing.T) {
	r := Result{OriginalSize: 200, CompressedSize: 50}
	if r.Ratio() != 0.25 || r.Savings() != 0.75 {
		t.Fatalf("unexpected ratio %v savings %v", r.Ratio(), r.Savings())
	}
	if (Result{}).Ratio() != 0 {
		t.Fatal("zero original size should report 0")
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	got := Options{}.WithDefaults(80, "png", 1024)
	if got.Quality != 80 || got.Format != "png" || got.MaxDimension != 1024 {
		t.Fatalf("unexpected defaults %+v", got)
	}
	got = Options{Quality: 30, Format: "jpeg", MaxDimension: 64}.WithDefaults(80, "png", 1024)
	if got.Quality != 30 || got.Format != "jpeg" || got.MaxDimension != 64 {
		t.Fatalf("explicit values overwritten: %+v", got)
	}
}
