package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// Metadata keys written by ExifExtractor.
const (
	FieldCapturedAt  = "capturedAt"
	FieldCameraMake  = "cameraMake"
	FieldCameraModel = "cameraModel"
	FieldLatitude    = "gpsLat"
	FieldLongitude   = "gpsLon"
	FieldWidth       = "width"
	FieldHeight      = "height"
)

// Metadata is the flattened set of fields extracted from a photo. It is
// stored as a string map so it round-trips through DynamoDB and jsonb
// without a schema.
type Metadata map[string]string

// MetadataExtractor parses embedded metadata from raw image bytes.
type MetadataExtractor interface {
	Extract(ctx context.Context, data []byte) (Metadata, error)
}

// ExifExtractor reads EXIF with evanoberholster/imagemeta, which handles
// JPEG, HEIC and TIFF containers without cgo.
type ExifExtractor struct{}

var _ MetadataExtractor = ExifExtractor{}

// Extract decodes EXIF data. Capture time falls back from DateTimeOriginal
// to CreateDate to ModifyDate. Pixel dimensions come from the image header
// when the format is decodable by the standard library.
func (ExifExtractor) Extract(ctx context.Context, data []byte) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode EXIF metadata: %w", err)
	}

	md := make(Metadata)

	switch {
	case !exifData.DateTimeOriginal().IsZero():
		md[FieldCapturedAt] = exifData.DateTimeOriginal().Format(time.RFC3339)
	case !exifData.CreateDate().IsZero():
		md[FieldCapturedAt] = exifData.CreateDate().Format(time.RFC3339)
	case !exifData.ModifyDate().IsZero():
		md[FieldCapturedAt] = exifData.ModifyDate().Format(time.RFC3339)
	}

	if v := strings.TrimSpace(exifData.Make); v != "" {
		md[FieldCameraMake] = v
	}
	if v := strings.TrimSpace(exifData.Model); v != "" {
		md[FieldCameraModel] = v
	}

	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		md[FieldLatitude] = strconv.FormatFloat(gps.Latitude(), 'f', 6, 64)
		md[FieldLongitude] = strconv.FormatFloat(gps.Longitude(), 'f', 6, 64)
	}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		md[FieldWidth] = strconv.Itoa(cfg.Width)
		md[FieldHeight] = strconv.Itoa(cfg.Height)
	}

	log.Debug().
		Int("fields", len(md)).
		Bool("hasCaptureTime", md[FieldCapturedAt] != "").
		Bool("hasGPS", md[FieldLatitude] != "").
		Msg("EXIF metadata extracted")

	return md, nil
}
