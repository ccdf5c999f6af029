package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/dunamismax/imagetea/internal/domain"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrFormatUnavailable = errors.New("output format unavailable in this build")
	ErrPDFNotRasterized  = errors.New("pdf has not been converted to page images")
	ErrInvalidDimensions = errors.New("source image has invalid dimensions")
)

// Transformer decodes a source image, applies crop/resize composition for the given
// settings and encodes the result.
type Transformer interface {
	Transform(ctx context.Context, input []byte, s domain.Settings) (data []byte, width, height int, err error)
}

// Probe reads the image header and returns its pixel size and decoder name.
func Probe(data []byte) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, "", ErrInvalidDimensions
	}
	return cfg.Width, cfg.Height, format, nil
}
