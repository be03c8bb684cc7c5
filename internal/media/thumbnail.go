// Package media builds thumbnails for uploaded images.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"mime"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	ThumbnailSize      = 256
	ThumbnailMediaType = "image/png"
	// DefaultMaxPixels guards against decompression bombs.
	DefaultMaxPixels = 40_000_000
)

var ErrUnsupportedImage = errors.New("media: unsupported image")

// IsImage reports whether the declared type or file extension names an image
// format this package can decode.
func IsImage(contentType, fileName string) bool {
	switch NormalizeContentType(contentType, fileName) {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	}
	return false
}

// NormalizeContentType prefers the declared type and falls back to the extension.
func NormalizeContentType(value, fileName string) string {
	ct := strings.ToLower(strings.TrimSpace(value))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct != "" && ct != "application/octet-stream" {
		if ct == "image/jpg" {
			return "image/jpeg"
		}
		return ct
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return strings.ToLower(mt)
	}
	return "application/octet-stream"
}

// Thumbnail decodes r and returns a PNG scaled to fit within size x size,
// keeping the aspect ratio. Images smaller than size are not upscaled.
func Thumbnail(r io.Reader, size int) ([]byte, error) {
	if size <= 0 {
		size = ThumbnailSize
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("media: read image: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > DefaultMaxPixels {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrUnsupportedImage, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	w, h := scaleToFit(cfg.Width, cfg.Height, size)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("media: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func scaleToFit(width, height, maxDim int) (int, int) {
	if width <= maxDim && height <= maxDim {
		return width, height
	}
	if width >= height {
		return maxDim, atLeastOne(int(math.Round(float64(height) * float64(maxDim) / float64(width))))
	}
	return atLeastOne(int(math.Round(float64(width) * float64(maxDim) / float64(height)))), maxDim
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
