package converter

import (
	"fmt"
	"strings"

	"github.com/dunamismax/imagetea/internal/domain"
	"github.com/dunamismax/imagetea/internal/pipeline"
)

// PageSize is the number of items on one page of the item grid.
const PageSize = 12

type ItemView struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Size        int64                    `json:"size"`
	SizeLabel   string                   `json:"size_label"`
	MimeType    string                   `json:"mime_type"`
	Width       int                      `json:"width"`
	Height      int                      `json:"height"`
	Badge       string                   `json:"badge,omitempty"`
	Placeholder bool                     `json:"placeholder"`
	Selected    bool                     `json:"selected"`
	Output      pipeline.TransformResult `json:"output"`
	Estimate    pipeline.SizeEstimate    `json:"estimate"`
}

// PageLink is one entry of the pager: a page number or an ellipsis.
type PageLink struct {
	Page     int  `json:"page,omitempty"`
	Current  bool `json:"current,omitempty"`
	Ellipsis bool `json:"ellipsis,omitempty"`
}

type View struct {
	Items         []ItemView      `json:"items"`
	TotalItems    int             `json:"total_items"`
	FilteredItems int             `json:"filtered_items"`
	SelectedCount int             `json:"selected_count"`
	Query         string          `json:"query"`
	Page          int             `json:"page"`
	PageCount     int             `json:"page_count"`
	PageLinks     []PageLink      `json:"page_links,omitempty"`
	HasPrev       bool            `json:"has_prev"`
	HasNext       bool            `json:"has_next"`
	Empty         bool            `json:"empty"`
	NoResults     bool            `json:"no_results"`
	Settings      domain.Settings `json:"settings"`
}

func (s *Session) view() *View {
	filtered := s.filtered()
	pageCount := (len(filtered) + PageSize - 1) / PageSize

	page := s.page
	if page > pageCount {
		page = pageCount
	}
	if page < 1 {
		page = 1
	}

	v := &View{
		Items:         []ItemView{},
		TotalItems:    len(s.items),
		FilteredItems: len(filtered),
		SelectedCount: len(s.selected),
		Query:         s.filter,
		Page:          page,
		PageCount:     pageCount,
		Empty:         len(s.items) == 0,
		NoResults:     len(s.items) > 0 && len(filtered) == 0,
		Settings:      s.settings,
	}
	if len(filtered) == 0 {
		return v
	}

	if pageCount > 1 {
		v.PageLinks = PageLinks(page, pageCount)
		v.HasPrev = page > 1
		v.HasNext = page < pageCount
	}

	start := (page - 1) * PageSize
	end := min(start+PageSize, len(filtered))
	for _, item := range filtered[start:end] {
		_, selected := s.selected[item.ID]
		v.Items = append(v.Items, itemView(item, selected, s.settings))
	}
	return v
}

func itemView(item domain.Item, selected bool, settings domain.Settings) ItemView {
	return ItemView{
		ID:          item.ID,
		Name:        item.Name,
		Size:        item.Size,
		SizeLabel:   pipeline.FormatFileSize(float64(item.Size)),
		MimeType:    item.MimeType,
		Width:       item.Width,
		Height:      item.Height,
		Badge:       badge(item),
		Placeholder: item.Placeholder(),
		Selected:    selected,
		Output:      pipeline.ResolveDimensions(item.Width, item.Height, settings.Resize, settings.Crop),
		Estimate:    pipeline.Estimate(item.Size, item.Width, settings),
	}
}

func badge(item domain.Item) string {
	switch {
	case item.IsPDF && item.PageNumber > 0:
		return fmt.Sprintf("PDF Page %d", item.PageNumber)
	case item.IsPDF:
		return "PDF"
	default:
		return ""
	}
}

// filtered returns items whose name contains the lowercased query.
func (s *Session) filtered() []domain.Item {
	if s.filter == "" {
		return s.items
	}
	out := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Name), s.filter) {
			out = append(out, item)
		}
	}
	return out
}

// PageLinks lists page 1, the last page and pages within two of current. An ellipsis
// stands in for the page exactly three away from current when it is not shown.
func PageLinks(current, total int) []PageLink {
	var links []PageLink
	for i := 1; i <= total; i++ {
		switch {
		case i == 1 || i == total || (i >= current-2 && i <= current+2):
			links = append(links, PageLink{Page: i, Current: i == current})
		case i == current-3 || i == current+3:
			links = append(links, PageLink{Ellipsis: true})
		}
	}
	return links
}
