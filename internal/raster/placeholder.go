package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	PlaceholderWidth  = 595
	PlaceholderHeight = 842

	thumbWidth  = 150
	thumbHeight = 200
)

var (
	thumbBackground = color.RGBA{R: 0xf8, G: 0xf9, B: 0xfa, A: 0xff}
	thumbIcon       = color.RGBA{R: 0xdc, G: 0x35, B: 0x45, A: 0xff}
	thumbLabel      = color.RGBA{R: 0x6c, G: 0x75, B: 0x7d, A: 0xff}
)

// PlaceholderThumbnail draws the 150x200 card shown for a PDF that could not be
// rasterized: a page glyph and a "PDF" caption.
func PlaceholderThumbnail() ([]byte, error) {
	dst := image.NewRGBA(image.Rect(0, 0, thumbWidth, thumbHeight))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(thumbBackground), image.Point{}, draw.Src)

	// page glyph
	page := image.Rect(55, 60, 95, 110)
	draw.Draw(dst, page, image.NewUniform(thumbIcon), image.Point{}, draw.Src)
	draw.Draw(dst, page.Inset(3), image.NewUniform(color.White), image.Point{}, draw.Src)

	drawCentered(dst, "PDF", 130, thumbLabel)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

func drawCentered(dst *image.RGBA, text string, baseline int, c color.Color) {
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
	}
	width := drawer.MeasureString(text).Ceil()
	x := (dst.Bounds().Dx() - width) / 2
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}
