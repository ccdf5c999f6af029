package raster

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceholderThumbnail(t *testing.T) {
	data, err := PlaceholderThumbnail()
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 150, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())

	r, g, b, _ := img.At(2, 2).RGBA()
	assert.Equal(t, uint32(0xf8), r>>8)
	assert.Equal(t, uint32(0xf9), g>>8)
	assert.Equal(t, uint32(0xfa), b>>8)
}

func TestRenderDPI(t *testing.T) {
	assert.Equal(t, 144.0, DPI)
}
