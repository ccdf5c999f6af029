package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/dunamismax/imagetea/internal/domain"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	"golang.org/x/image/draw"
)

const (
	webpMethod = 4
	avifSpeed  = 8
)

// stdlibTransformer needs no cgo. WebP and AVIF go through the gen2brain encoders,
// which run libwebp and libavif compiled to wasm.
type stdlibTransformer struct{}

func (t stdlibTransformer) Transform(ctx context.Context, input []byte, s domain.Settings) ([]byte, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, 0, ctx.Err()
	default:
	}

	src, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode source image: %w", err)
	}

	out, err := compose(src, s)
	if err != nil {
		return nil, 0, 0, err
	}

	data, err := encodeImage(out, s)
	if err != nil {
		return nil, 0, 0, err
	}

	bounds := out.Bounds()
	return data, bounds.Dx(), bounds.Dy(), nil
}

// compose draws src into a canvas of the resolved size. With a crop preset the
// centered source region matching the target ratio is used, otherwise the whole source.
func compose(src image.Image, s domain.Settings) (*image.RGBA, error) {
	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, ErrInvalidDimensions
	}

	dims := ResolveDimensions(bounds.Dx(), bounds.Dy(), s.Resize, s.Crop)
	dst := image.NewRGBA(image.Rect(0, 0, dims.Width, dims.Height))

	srcRect := bounds
	if !s.Crop.IsNone() {
		srcRect = CenterCrop(bounds.Dx(), bounds.Dy(), dims.Width, dims.Height).Rectangle(bounds)
	}

	draw.CatmullRom.Scale(dst, dst.Bounds(), src, srcRect, draw.Src, nil)
	return dst, nil
}

func encodeImage(img image.Image, s domain.Settings) ([]byte, error) {
	var buf bytes.Buffer

	switch s.Format {
	case domain.FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.EncoderQuality()}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case domain.FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case domain.FormatWebP:
		if err := webp.Encode(&buf, img, webp.Options{Quality: s.EncoderQuality(), Method: webpMethod}); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	case domain.FormatAVIF:
		quality := s.EncoderQuality()
		if err := avif.Encode(&buf, img, avif.Options{Quality: quality, QualityAlpha: quality, Speed: avifSpeed}); err != nil {
			return nil, fmt.Errorf("encode avif: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrFormatUnavailable, s.Format)
	}

	return buf.Bytes(), nil
}
