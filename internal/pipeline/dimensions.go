package pipeline

import (
	"math"

	"github.com/dunamismax/imagetea/internal/domain"
)

type TransformResult struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ResolveDimensions applies the resize spec to the source size and then resolves the
// crop preset against the resized size. Non-positive source dimensions are returned
// unchanged.
func ResolveDimensions(srcW, srcH int, resize domain.ResizeSpec, crop domain.CropSpec) TransformResult {
	if srcW <= 0 || srcH <= 0 {
		return TransformResult{Width: srcW, Height: srcH}
	}

	w, h := srcW, srcH
	switch resize.Kind {
	case domain.ResizePercentage:
		if resize.Percent > 0 {
			scale := resize.Percent / 100
			w = roundInt(float64(srcW) * scale)
			h = roundInt(float64(srcH) * scale)
		}
	case domain.ResizeCustomWidth:
		target := resize.Width
		if target <= 0 {
			target = srcW
		}
		ratio := float64(target) / float64(srcW)
		w = target
		h = roundInt(float64(srcH) * ratio)
	}
	w, h = atLeastOne(w), atLeastOne(h)

	if crop.IsNone() {
		return TransformResult{Width: w, Height: h}
	}
	preset, ok := domain.LookupCropPreset(crop.Preset)
	if !ok {
		return TransformResult{Width: w, Height: h}
	}
	w, h = CropDimensions(preset, w, h)
	return TransformResult{Width: w, Height: h}
}

// CropDimensions resolves a preset against the current size. Fixed presets win
// outright; ratio presets shrink whichever axis is too long.
func CropDimensions(preset domain.CropPreset, currentW, currentH int) (int, int) {
	if preset.Fixed() {
		return preset.Width, preset.Height
	}
	if preset.Ratio <= 0 || currentW <= 0 || currentH <= 0 {
		return currentW, currentH
	}
	if float64(currentW)/float64(currentH) > preset.Ratio {
		return atLeastOne(roundInt(float64(currentH) * preset.Ratio)), currentH
	}
	return currentW, atLeastOne(roundInt(float64(currentW) / preset.Ratio))
}

func roundInt(v float64) int {
	return int(math.Round(v))
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
