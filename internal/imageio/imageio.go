// Package imageio loads, converts, and stores the images that flow through the
// pipeline, and owns the lifecycle of their temporary files.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocrerr"
)

// DefaultPrefix marks every temporary artifact created by the pipeline.
const DefaultPrefix = "ocrpipe_"

// Load decodes the image at path with EXIF orientation applied.
func Load(path string) (image.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ocrerr.New("Load", ocrerr.ErrFileMissing, path)
		}
		return nil, ocrerr.New("Load", ocrerr.ErrFileUnreadable, err.Error())
	}
	if info.IsDir() {
		return nil, ocrerr.New("Load", ocrerr.ErrFileUnreadable, path+" is a directory")
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, ocrerr.New("Load", ocrerr.ErrFileUnreadable, err.Error())
	}
	return img, nil
}

// DecodeSize returns the pixel dimensions of the image at path without decoding pixel data.
func DecodeSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, ocrerr.New("DecodeSize", ocrerr.ErrFileMissing, path)
		}
		return 0, 0, ocrerr.New("DecodeSize", ocrerr.ErrFileUnreadable, err.Error())
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, ocrerr.New("DecodeSize", ocrerr.ErrFileUnreadable, err.Error())
	}
	return cfg.Width, cfg.Height, nil
}

// ToGrayscale converts img to 8-bit luminance. A *image.Gray input is returned as is.
func ToGrayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// ToNRGBA converts img to non-premultiplied RGBA with a zero origin.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}

// Blank returns a uniform image of the given size and color.
func Blank(width, height int, c color.Color) *image.NRGBA {
	return imaging.New(width, height, c)
}

// SaveTemp writes img to a new file in dir whose name starts with prefix and
// ends with suffix. The suffix selects the encoding (".png" when empty).
func SaveTemp(img image.Image, dir, prefix, suffix string) (string, error) {
	if suffix == "" {
		suffix = ".png"
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	f, err := os.CreateTemp(dir, prefix+"*"+suffix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()

	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		format = imaging.PNG
	}
	if err := imaging.Encode(f, img, format); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to encode temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close temp image: %w", err)
	}
	return path, nil
}

// Cleanup removes the given paths. Failures are logged and never returned.
func Cleanup(paths ...string) {
	log := logger.WithComponent("imageio")
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			log.Debug().Err(err).Str("path", p).Msg("Failed to remove temp artifact")
		}
	}
}

// IsImageExt reports whether ext (with leading dot, any case) is an accepted raster format.
func IsImageExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif":
		return true
	}
	return false
}

// IsPDF reports whether path has a PDF extension.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
