//go:build !fitz || !cgo

package raster

type unavailable struct{}

// New returns a rasterizer that always reports ErrUnavailable; callers fall back to
// placeholder items.
func New() Rasterizer {
	return unavailable{}
}

func (unavailable) Open([]byte) (Document, error) {
	return nil, ErrUnavailable
}
