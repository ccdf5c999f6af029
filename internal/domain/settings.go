package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type ResizeKind int

const (
	ResizeNone ResizeKind = iota
	ResizePercentage
	ResizeCustomWidth
)

func (k ResizeKind) String() string {
	switch k {
	case ResizePercentage:
		return "percentage"
	case ResizeCustomWidth:
		return "custom"
	default:
		return "none"
	}
}

// ResizeSpec is None, Percentage(Percent) or CustomWidth(Width). Only the field that
// matches Kind is meaningful.
type ResizeSpec struct {
	Kind    ResizeKind
	Percent float64
	Width   int
}

func NoResize() ResizeSpec {
	return ResizeSpec{Kind: ResizeNone}
}

func ResizeByPercent(p float64) ResizeSpec {
	return ResizeSpec{Kind: ResizePercentage, Percent: p}
}

// ResizeToWidth keeps the aspect ratio. A non-positive width falls back to the
// source width when resolved.
func ResizeToWidth(w int) ResizeSpec {
	return ResizeSpec{Kind: ResizeCustomWidth, Width: w}
}

type resizeJSON struct {
	Kind    string  `json:"kind"`
	Percent float64 `json:"percent,omitempty"`
	Width   int     `json:"width,omitempty"`
}

func (r ResizeSpec) MarshalJSON() ([]byte, error) {
	out := resizeJSON{Kind: r.Kind.String()}
	switch r.Kind {
	case ResizePercentage:
		out.Percent = r.Percent
	case ResizeCustomWidth:
		out.Width = r.Width
	}
	return json.Marshal(out)
}

func (r *ResizeSpec) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = NoResize()
		return nil
	}
	var in resizeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(in.Kind)) {
	case "", "none":
		*r = NoResize()
	case "percentage", "percent":
		*r = ResizeByPercent(in.Percent)
	case "custom", "custom_width", "width":
		*r = ResizeToWidth(in.Width)
	default:
		return fmt.Errorf("unknown resize kind: %q", in.Kind)
	}
	return nil
}

// CropSpec is None (empty preset) or Preset(name).
type CropSpec struct {
	Preset string
}

func NoCrop() CropSpec {
	return CropSpec{}
}

func CropTo(preset string) CropSpec {
	return CropSpec{Preset: strings.TrimSpace(preset)}
}

func (c CropSpec) IsNone() bool {
	return c.Preset == ""
}

func (c CropSpec) MarshalJSON() ([]byte, error) {
	if c.IsNone() {
		return []byte("null"), nil
	}
	return json.Marshal(c.Preset)
}

func (c *CropSpec) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = NoCrop()
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*c = CropTo(name)
	return nil
}

// Settings is the immutable conversion configuration handed to the transform
// pipeline. Quality is in [0,1] and ignored for png.
type Settings struct {
	Format  Format     `json:"format"`
	Quality float64    `json:"quality"`
	Resize  ResizeSpec `json:"resize"`
	Crop    CropSpec   `json:"crop"`
}

func DefaultSettings() Settings {
	return Settings{
		Format:  FormatJPEG,
		Quality: 0.8,
		Resize:  NoResize(),
		Crop:    NoCrop(),
	}
}

func (s Settings) Validate() error {
	if !s.Format.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, s.Format)
	}
	if s.Quality < 0 || s.Quality > 1 {
		return errors.New("quality must be between 0 and 1")
	}
	switch s.Resize.Kind {
	case ResizeNone, ResizeCustomWidth:
	case ResizePercentage:
		if s.Resize.Percent <= 0 || s.Resize.Percent > 100 {
			return errors.New("resize percentage must be in (0, 100]")
		}
	default:
		return fmt.Errorf("unknown resize kind: %d", s.Resize.Kind)
	}
	if !s.Crop.IsNone() {
		if _, ok := LookupCropPreset(s.Crop.Preset); !ok {
			return fmt.Errorf("unknown crop preset: %q", s.Crop.Preset)
		}
	}
	return nil
}

// EncoderQuality maps the 0..1 factor onto the 1..100 scale used by encoders.
func (s Settings) EncoderQuality() int {
	q := int(s.Quality*100 + 0.5)
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
