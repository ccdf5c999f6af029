package pipeline

import (
	"fmt"
	"math"
	"strconv"

	"github.com/dunamismax/imagetea/internal/domain"
)

const NoCompressionLabel = "no compression"

type SizeEstimate struct {
	Bytes       int64  `json:"bytes"`
	Human       string `json:"human"`
	Format      string `json:"format"`
	Compression string `json:"compression"`
}

// Estimate predicts the converted size from format and resize heuristics. It never
// encodes anything and export never consults it.
func Estimate(originalBytes int64, sourceWidth int, s domain.Settings) SizeEstimate {
	original := float64(max(originalBytes, 0))
	estimated := original * formatFactor(s.Format, s.Quality)

	switch s.Resize.Kind {
	case domain.ResizePercentage:
		scale := s.Resize.Percent / 100
		estimated *= scale * scale
	case domain.ResizeCustomWidth:
		if sourceWidth > 0 {
			target := s.Resize.Width
			if target <= 0 {
				target = sourceWidth
			}
			ratio := float64(target) / float64(sourceWidth)
			estimated *= ratio * ratio
		}
	}
	if estimated < 0 {
		estimated = 0
	}

	compression := NoCompressionLabel
	if estimated < original {
		compression = fmt.Sprintf("-%.1f%%", (original-estimated)/original*100)
	}

	return SizeEstimate{
		Bytes:       int64(math.Round(estimated)),
		Human:       FormatFileSize(estimated),
		Format:      s.Format.Label(),
		Compression: compression,
	}
}

func formatFactor(f domain.Format, quality float64) float64 {
	switch f {
	case domain.FormatJPEG:
		return quality * 0.7
	case domain.FormatWebP:
		return quality * 0.5
	case domain.FormatAVIF:
		return quality * 0.3
	case domain.FormatPNG:
		return 0.9
	default:
		return 1
	}
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatFileSize renders a byte count with a 1024 base and at most two decimals.
func FormatFileSize(bytes float64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(bytes) / math.Log(1024)))
	if i < 0 {
		i = 0
	}
	if i >= len(sizeUnits) {
		i = len(sizeUnits) - 1
	}
	value := math.Round(bytes/math.Pow(1024, float64(i))*100) / 100
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + sizeUnits[i]
}
