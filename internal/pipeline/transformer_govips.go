//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/imagetea/internal/domain"
)

type govipsTransformer struct{}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, s domain.Settings) ([]byte, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, 0, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if err := applyGovipsComposition(img, s); err != nil {
		return nil, 0, 0, err
	}

	data, err := exportGovipsImage(img, s)
	if err != nil {
		return nil, 0, 0, err
	}

	return data, img.Width(), img.Height(), nil
}

func applyGovipsComposition(img *vips.ImageRef, s domain.Settings) error {
	srcW, srcH := img.Width(), img.Height()
	if srcW <= 0 || srcH <= 0 {
		return ErrInvalidDimensions
	}

	dims := ResolveDimensions(srcW, srcH, s.Resize, s.Crop)

	if !s.Crop.IsNone() {
		r := CenterCrop(srcW, srcH, dims.Width, dims.Height).Rectangle(image.Rect(0, 0, srcW, srcH))
		if err := img.ExtractArea(r.Min.X, r.Min.Y, r.Dx(), r.Dy()); err != nil {
			return fmt.Errorf("crop image: %w", err)
		}
	}

	hscale := float64(dims.Width) / float64(img.Width())
	vscale := float64(dims.Height) / float64(img.Height())
	if hscale == 1 && vscale == 1 {
		return nil
	}
	if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		return fmt.Errorf("resize image: %w", err)
	}
	return nil
}

func exportGovipsImage(img *vips.ImageRef, s domain.Settings) ([]byte, error) {
	quality := s.EncoderQuality()

	switch s.Format {
	case domain.FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = quality
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case domain.FormatPNG:
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case domain.FormatWebP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	case domain.FormatAVIF:
		params := vips.NewAvifExportParams()
		params.Quality = quality
		data, _, err := img.ExportAvif(params)
		if err != nil {
			return nil, fmt.Errorf("encode avif: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrFormatUnavailable, s.Format)
	}
}
