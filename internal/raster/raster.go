// Package raster renders PDF pages to bitmaps.
package raster

import (
	"context"
	"errors"
	"image"
)

// Scale is the render factor applied to the 72 DPI PDF user space.
const Scale = 2.0

// DPI is the effective render resolution for Scale.
const DPI = 72 * Scale

var ErrUnavailable = errors.New("pdf rasterizer unavailable in this build")

// Document is an opened PDF. Pages are numbered from 1.
type Document interface {
	NumPages() int
	RenderPage(ctx context.Context, page int) (image.Image, error)
	Close() error
}

type Rasterizer interface {
	Open(data []byte) (Document, error)
}
