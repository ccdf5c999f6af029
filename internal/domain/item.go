package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	MIMETypePDF = "application/pdf"
	MIMETypePNG = "image/png"
)

// Item is one imported image or rendered PDF page as held by the session and the
// item store.
type Item struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Payload      []byte    `json:"-"`
	Thumbnail    []byte    `json:"-"`
	UploadedAt   time.Time `json:"uploaded_at"`
	IsPDF        bool      `json:"is_pdf"`
	PageNumber   int       `json:"page_number,omitempty"`
}

// Placeholder reports a PDF that was stored without being rasterized.
func (i Item) Placeholder() bool {
	return i.IsPDF && i.PageNumber == 0
}

var extPattern = regexp.MustCompile(`\.[^/.]+$`)

func (i Item) BaseName() string {
	name := i.OriginalName
	if name == "" {
		name = i.Name
	}
	return extPattern.ReplaceAllString(name, "")
}

// ConvertedName is the download name for this item converted to f.
func (i Item) ConvertedName(f Format) string {
	if i.IsPDF && i.PageNumber > 0 {
		return fmt.Sprintf("%s_page_%d_converted.%s", i.BaseName(), i.PageNumber, f.Extension())
	}
	return fmt.Sprintf("%s_converted.%s", i.BaseName(), f.Extension())
}

// PreviewBytes returns the thumbnail when one exists, otherwise the payload.
func (i Item) PreviewBytes() ([]byte, string) {
	if len(i.Thumbnail) > 0 {
		return i.Thumbnail, MIMETypePNG
	}
	return i.Payload, i.MimeType
}

// Supported reports whether a MIME type can be imported.
func Supported(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.HasPrefix(mimeType, "image/") || mimeType == MIMETypePDF
}
