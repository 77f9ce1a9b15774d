package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	"image/png"
	"strings"
	"time"

	"github.com/gen2brain/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	"toolbox/internal/services"
	"toolbox/internal/textutil"
)

const (
	// DefaultQuality is used when Options.Quality is zero.
	DefaultQuality = 80
	// MaxPixels bounds decoded images to keep memory use predictable.
	MaxPixels = 64 << 20

	stageName = "compress_image"

	// webpMethod trades encode speed for size (0 fastest, 6 smallest).
	webpMethod = 4
)

// Input is an image to compress.
type Input struct {
	Name string
	Data []byte
}

// Options control compression. Zero values select defaults.
type Options struct {
	// Quality is 1-100. For PNG it selects the zlib effort; JPEG and WebP
	// use it directly as lossy quality.
	Quality int
	// Format is jpeg, png, or webp. Empty keeps JPEG.
	Format string
	// MaxDimension caps the longest side; 0 disables resizing.
	MaxDimension int
	// MaxInputBytes rejects larger inputs; 0 disables the check.
	MaxInputBytes int64
}

// Result describes a compressed image.
type Result struct {
	Name           string        `json:"name"`
	Format         string        `json:"format"`
	MIMEType       string        `json:"mime_type"`
	SourceFormat   string        `json:"source_format"`
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	OriginalWidth  int           `json:"original_width"`
	OriginalHeight int           `json:"original_height"`
	OriginalSize   int64         `json:"original_size"`
	CompressedSize int64         `json:"compressed_size"`
	Elapsed        time.Duration `json:"elapsed"`
	Data           []byte        `json:"-"`
}

// Ratio returns compressed size over original size.
func (r Result) Ratio() float64 {
	if r.OriginalSize <= 0 {
		return 0
	}
	return float64(r.CompressedSize) / float64(r.OriginalSize)
}

// Savings returns the fraction of bytes saved, negative when the output grew.
func (r Result) Savings() float64 {
	if r.OriginalSize <= 0 {
		return 0
	}
	return 1 - r.Ratio()
}

// NormalizeFormat maps user spellings onto jpeg, png, or webp. Unknown values
// are returned lowercased.
func NormalizeFormat(format string) string {
	format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	switch format {
	case "", "jpg", "jpeg":
		return "jpeg"
	}
	return format
}

// WithDefaults fills zero-valued Quality, Format and MaxDimension.
func (o Options) WithDefaults(quality int, format string, maxDimension int) Options {
	if o.Quality == 0 {
		o.Quality = quality
	}
	if strings.TrimSpace(o.Format) == "" {
		o.Format = format
	}
	if o.MaxDimension == 0 {
		o.MaxDimension = maxDimension
	}
	return o
}

// Validate checks options without decoding anything.
func (o Options) Validate() error {
	if o.Quality < 0 || o.Quality > 100 {
		return invalid("validate", fmt.Sprintf("quality %d out of range 1-100", o.Quality), nil)
	}
	if o.MaxDimension < 0 {
		return invalid("validate", "max dimension must be positive", nil)
	}
	switch NormalizeFormat(o.Format) {
	case "jpeg", "png", "webp":
		return nil
	default:
		return invalid("validate", fmt.Sprintf("unsupported output format %q", o.Format), nil)
	}
}

// Compress decodes input, resizes it if needed, and re-encodes it.
func Compress(ctx context.Context, input Input, opts Options) (Result, error) {
	started := time.Now()
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	if len(input.Data) == 0 {
		return Result{}, invalid("read", "image is empty", nil)
	}
	if opts.MaxInputBytes > 0 && int64(len(input.Data)) > opts.MaxInputBytes {
		return Result{}, invalid("read", fmt.Sprintf("image is %d bytes; limit is %d", len(input.Data), opts.MaxInputBytes), nil)
	}
	quality := opts.Quality
	if quality == 0 {
		quality = DefaultQuality
	}
	format := NormalizeFormat(opts.Format)

	cfg, sourceFormat, err := image.DecodeConfig(bytes.NewReader(input.Data))
	if err != nil {
		return Result{}, invalid("decode", "unrecognized image data", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return Result{}, invalid("decode", fmt.Sprintf("image dimensions %dx%d not supported", cfg.Width, cfg.Height), nil)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	src, _, err := image.Decode(bytes.NewReader(input.Data))
	if err != nil {
		return Result{}, invalid("decode", "corrupt "+sourceFormat+" data", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	img := resize(src, opts.MaxDimension)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		enc := png.Encoder{CompressionLevel: pngLevel(quality)}
		err = enc.Encode(&buf, img)
	case "webp":
		err = webp.Encode(&buf, img, webp.Options{Quality: quality, Method: webpMethod})
	default:
		err = jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: quality})
	}
	if err != nil {
		return Result{}, services.Wrap(services.ErrProcessing, stageName, "encode", format, err)
	}

	bounds := img.Bounds()
	return Result{
		Name:           OutputName(input.Name, format),
		Format:         format,
		MIMEType:       "image/" + format,
		SourceFormat:   sourceFormat,
		Width:          bounds.Dx(),
		Height:         bounds.Dy(),
		OriginalWidth:  cfg.Width,
		OriginalHeight: cfg.Height,
		OriginalSize:   int64(len(input.Data)),
		CompressedSize: int64(buf.Len()),
		Elapsed:        time.Since(started),
		Data:           buf.Bytes(),
	}, nil
}

// OutputName derives the download name ("photo.png" -> "photo.jpg").
func OutputName(inputName, format string) string {
	ext := NormalizeFormat(format)
	if ext == "jpeg" {
		ext = "jpg"
	}
	return textutil.Stem(inputName) + "." + ext
}

// FitWithin scales w x h so the longest side is at most limit, keeping the
// aspect ratio. Neither side drops below 1.
func FitWithin(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, max(1, (h*limit+w/2)/w)
	}
	return max(1, (w*limit+h/2)/h), limit
}

func resize(src image.Image, limit int) image.Image {
	b := src.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), limit)
	if w == b.Dx() && h == b.Dy() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

// flatten composites images with transparency onto white so JPEG output
// does not turn transparent areas black.
func flatten(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Over)
	return dst
}

func pngLevel(quality int) png.CompressionLevel {
	switch {
	case quality <= 50:
		return png.BestCompression
	case quality <= 90:
		return png.DefaultCompression
	default:
		return png.BestSpeed
	}
}

func invalid(op, message string, err error) error {
	return services.Wrap(services.ErrInvalidInput, stageName, op, message, err)
}
