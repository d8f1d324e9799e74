package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// DefaultThumbnailWidth is the width in pixels of rendered thumbnails.
const DefaultThumbnailWidth = 400

// ThumbnailContentType is the MIME type of rendered thumbnails.
const ThumbnailContentType = "image/jpeg"

// ThumbnailRenderer downscales raw image bytes to a fixed-width image.
type ThumbnailRenderer interface {
	Render(ctx context.Context, data []byte, width int) ([]byte, error)
}

// JPEGRenderer decodes JPEG, PNG or GIF input, scales it to the requested
// width with CatmullRom resampling and encodes the result as JPEG. Images
// narrower than the requested width are re-encoded at their own size.
type JPEGRenderer struct {
	// Quality is the JPEG quality (1-100). Zero means 80.
	Quality int
}

var _ ThumbnailRenderer = JPEGRenderer{}

func (r JPEGRenderer) Render(ctx context.Context, data []byte, width int) ([]byte, error) {
	if width <= 0 {
		return nil, fmt.Errorf("invalid thumbnail width %d", width)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	newWidth, newHeight := scaleToWidth(bounds.Dx(), bounds.Dy(), width)

	var out image.Image = src
	if newWidth != bounds.Dx() {
		dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		out = dst
	}

	quality := r.Quality
	if quality == 0 {
		quality = 80
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	log.Debug().
		Str("format", format).
		Int("origWidth", bounds.Dx()).
		Int("origHeight", bounds.Dy()).
		Int("newWidth", newWidth).
		Int("newHeight", newHeight).
		Int("outputSize", buf.Len()).
		Msg("Thumbnail rendered")

	return buf.Bytes(), nil
}

// scaleToWidth returns the target dimensions for a fixed-width thumbnail,
// preserving aspect ratio and never upscaling. Height is at least 1.
func scaleToWidth(width, height, target int) (int, int) {
	if width <= target || width == 0 {
		return width, height
	}
	newHeight := int(float64(height) * float64(target) / float64(width))
	if newHeight < 1 {
		newHeight = 1
	}
	return target, newHeight
}
