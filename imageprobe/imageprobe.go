// Package imageprobe inspects downloaded image bytes without fully decoding them.
package imageprobe

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"  // BMP decoder
	_ "golang.org/x/image/tiff" // TIFF decoder
	_ "golang.org/x/image/webp" // WebP decoder
)

// ErrUnsupported is returned for data no registered decoder understands
var ErrUnsupported = errors.New("unsupported image format")

// Info describes an image as it would be displayed
type Info struct {
	Width       int
	Height      int
	Format      string // "png", "jpeg", "gif", "webp", "bmp", "tiff" or "svg"
	Orientation int    // EXIF orientation, 1 when absent
}

// ContentType returns the MIME type for the detected format
func (i Info) ContentType() string {
	switch i.Format {
	case "svg":
		return "image/svg+xml"
	case "":
		return "application/octet-stream"
	default:
		return "image/" + i.Format
	}
}

// Probe reads the image header. Width and height are swapped for EXIF
// orientations 5-8 so they match the rendered image.
// SVG documents are accepted with zero dimensions since they scale freely.
func Probe(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrUnsupported
	}
	if isSVG(data) {
		return Info{Format: "svg", Orientation: 1}, nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return Info{}, ErrUnsupported
		}
		return Info{}, fmt.Errorf("failed to read image header: %w", err)
	}

	info := Info{
		Width:       cfg.Width,
		Height:      cfg.Height,
		Format:      format,
		Orientation: orientation(data),
	}
	if info.Orientation >= 5 && info.Orientation <= 8 {
		info.Width, info.Height = info.Height, info.Width
	}
	return info, nil
}

// MinSide reports whether both sides are at least n pixels.
// Vector images always pass.
func (i Info) MinSide(n int) bool {
	if i.Format == "svg" {
		return true
	}
	return i.Width >= n && i.Height >= n
}

func orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

func isSVG(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	s := strings.ToLower(strings.TrimSpace(string(head)))
	return strings.HasPrefix(s, "<svg") || (strings.HasPrefix(s, "<?xml") && strings.Contains(s, "<svg"))
}
