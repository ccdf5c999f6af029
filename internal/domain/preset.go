package domain

import "sort"

// CropPreset is a named crop target. Exactly one of Ratio or Width/Height is set.
type CropPreset struct {
	Name   string  `json:"name"`
	Label  string  `json:"label"`
	Ratio  float64 `json:"ratio,omitempty"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
}

func (p CropPreset) Fixed() bool {
	return p.Width > 0 && p.Height > 0
}

var cropPresets = map[string]CropPreset{
	"1:1":       {Name: "1:1", Label: "Square", Ratio: 1},
	"4:5":       {Name: "4:5", Label: "Portrait post", Ratio: 4.0 / 5.0},
	"16:9":      {Name: "16:9", Label: "Widescreen", Ratio: 16.0 / 9.0},
	"1080:1920": {Name: "1080:1920", Label: "Story", Ratio: 9.0 / 16.0},
	"1200:630":  {Name: "1200:630", Label: "Link preview", Width: 1200, Height: 630},
	"a4":        {Name: "a4", Label: "A4", Width: 595, Height: 842},
	"a3":        {Name: "a3", Label: "A3", Width: 842, Height: 1191},
	"letter":    {Name: "letter", Label: "US Letter", Width: 612, Height: 792},
	"business":  {Name: "business", Label: "Business card", Width: 252, Height: 144},
	"postcard":  {Name: "postcard", Label: "Postcard", Width: 432, Height: 288},
	"1920:1080": {Name: "1920:1080", Label: "Full HD", Width: 1920, Height: 1080},
	"1366:768":  {Name: "1366:768", Label: "HD laptop", Width: 1366, Height: 768},
	"1280:720":  {Name: "1280:720", Label: "HD", Width: 1280, Height: 720},
}

func LookupCropPreset(name string) (CropPreset, bool) {
	p, ok := cropPresets[name]
	return p, ok
}

// CropPresets returns the catalog sorted by name.
func CropPresets() []CropPreset {
	out := make([]CropPreset, 0, len(cropPresets))
	for _, p := range cropPresets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
