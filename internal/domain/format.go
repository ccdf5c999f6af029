package domain

import (
	"errors"
	"fmt"
	"strings"
)

type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
)

var ErrUnsupportedFormat = errors.New("unsupported output format")

func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	case "avif":
		return FormatAVIF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

func (f Format) Valid() bool {
	switch f {
	case FormatPNG, FormatJPEG, FormatWebP, FormatAVIF:
		return true
	default:
		return false
	}
}

func (f Format) MIMEType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	default:
		return "image/png"
	}
}

// Extension is the file suffix used for converted outputs, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatWebP, FormatAVIF:
		return string(f)
	default:
		return "png"
	}
}

func (f Format) Label() string {
	return strings.ToUpper(string(f))
}

// Lossy reports whether the quality factor affects the encoder.
func (f Format) Lossy() bool {
	return f != FormatPNG
}
