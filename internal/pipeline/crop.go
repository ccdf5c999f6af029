package pipeline

import (
	"image"
	"math"
)

// SourceRect is the region of the source image copied into the destination.
type SourceRect struct {
	X, Y, W, H float64
}

// CenterCrop returns the largest centered region of an imgW x imgH source that has
// the target aspect ratio. The copy-resize primitive scales it into the destination.
func CenterCrop(imgW, imgH, targetW, targetH int) SourceRect {
	if imgW <= 0 || imgH <= 0 || targetW <= 0 || targetH <= 0 {
		return SourceRect{W: float64(max(imgW, 0)), H: float64(max(imgH, 0))}
	}

	sourceRatio := float64(imgW) / float64(imgH)
	targetRatio := float64(targetW) / float64(targetH)

	if sourceRatio > targetRatio {
		w := float64(imgH) * targetRatio
		return SourceRect{
			X: (float64(imgW) - w) / 2,
			Y: 0,
			W: w,
			H: float64(imgH),
		}
	}

	h := float64(imgW) / targetRatio
	return SourceRect{
		X: 0,
		Y: (float64(imgH) - h) / 2,
		W: float64(imgW),
		H: h,
	}
}

// Rectangle snaps the region to whole pixels, offset by origin and kept inside bounds.
func (r SourceRect) Rectangle(bounds image.Rectangle) image.Rectangle {
	x0 := bounds.Min.X + int(math.Round(r.X))
	y0 := bounds.Min.Y + int(math.Round(r.Y))
	x1 := bounds.Min.X + int(math.Round(r.X+r.W))
	y1 := bounds.Min.Y + int(math.Round(r.Y+r.H))

	out := image.Rect(x0, y0, x1, y1).Intersect(bounds)
	if out.Empty() {
		return bounds
	}
	return out
}
