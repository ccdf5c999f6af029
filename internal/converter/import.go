package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strings"

	"github.com/dunamismax/imagetea/internal/domain"
	"github.com/dunamismax/imagetea/internal/pipeline"
	"github.com/dunamismax/imagetea/internal/raster"
	"go.uber.org/zap"
)

// handleImport adds uploads one at a time. Unsupported or unreadable files are
// reported and skipped; PDFs become one item per rendered page, or a placeholder item
// when they cannot be rendered.
func (s *Session) handleImport(ctx context.Context, a Action) (Update, error) {
	var u Update

	valid := make([]Upload, 0, len(a.Uploads))
	for _, up := range a.Uploads {
		up.MimeType = detectMIME(up)
		if !domain.Supported(up.MimeType) {
			u.notify(NoticeWarning, fmt.Sprintf("Skipped %s: not an image or PDF file.", up.Name))
			continue
		}
		valid = append(valid, up)
	}
	if len(valid) == 0 {
		u.notify(NoticeError, "Please choose valid image or PDF files.")
		return u, ErrNoValidFiles
	}

	for i, up := range valid {
		if err := ctx.Err(); err != nil {
			u.View = s.view()
			return u, err
		}
		u.progress(i+1, len(valid), "Processing "+up.Name)

		var items []domain.Item
		if up.MimeType == domain.MIMETypePDF {
			items = s.importPDF(ctx, up, &u)
		} else {
			item, err := s.importImage(up)
			if err != nil {
				s.logger.Warn("skipping unreadable image", zap.String("name", up.Name), zap.Error(err))
				u.notify(NoticeError, fmt.Sprintf("Could not read %s.", up.Name))
				continue
			}
			items = []domain.Item{item}
		}

		for _, item := range items {
			s.items = append(s.items, item)
			if err := s.deps.Store.Put(ctx, item); err != nil {
				s.storageFailed(&u, "put", err)
			}
		}
	}

	u.View = s.view()
	return u, nil
}

func (s *Session) importImage(up Upload) (domain.Item, error) {
	width, height, _, err := pipeline.Probe(up.Data)
	if err != nil {
		return domain.Item{}, err
	}
	return domain.Item{
		ID:           s.deps.NewID(),
		Name:         up.Name,
		OriginalName: up.Name,
		Size:         int64(len(up.Data)),
		MimeType:     up.MimeType,
		Width:        width,
		Height:       height,
		Payload:      up.Data,
		UploadedAt:   s.deps.Clock().UTC(),
	}, nil
}

// importPDF renders every page to a PNG item. Pages that fail to render are skipped; if
// the document cannot be opened or no page renders, a placeholder item is stored.
func (s *Session) importPDF(ctx context.Context, up Upload, u *Update) []domain.Item {
	doc, err := s.deps.Rasterizer.Open(up.Data)
	if err != nil {
		if errors.Is(err, raster.ErrUnavailable) {
			s.logger.Debug("pdf rendering unavailable, storing placeholder", zap.String("name", up.Name))
		} else {
			s.logger.Warn("open pdf failed, storing placeholder", zap.String("name", up.Name), zap.Error(err))
		}
		return s.pdfPlaceholder(up, u)
	}
	defer doc.Close()

	pages := doc.NumPages()
	if pages <= 0 {
		s.logger.Warn("pdf has no pages, storing placeholder", zap.String("name", up.Name))
		return s.pdfPlaceholder(up, u)
	}

	base := strings.Replace(up.Name, ".pdf", "", 1)
	pageSize := int64(len(up.Data)) / int64(pages)

	items := make([]domain.Item, 0, pages)
	for page := 1; page <= pages; page++ {
		if ctx.Err() != nil {
			break
		}
		u.progress(page, pages, fmt.Sprintf("Rendering page %d of %d", page, pages))

		img, err := doc.RenderPage(ctx, page)
		if err != nil {
			s.logger.Warn("skipping pdf page", zap.String("name", up.Name), zap.Int("page", page), zap.Error(err))
			continue
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			s.logger.Warn("skipping pdf page", zap.String("name", up.Name), zap.Int("page", page), zap.Error(err))
			continue
		}

		bounds := img.Bounds()
		items = append(items, domain.Item{
			ID:           s.deps.NewID(),
			Name:         fmt.Sprintf("%s_page_%d.png", base, page),
			OriginalName: up.Name,
			Size:         pageSize,
			MimeType:     domain.MIMETypePNG,
			Width:        bounds.Dx(),
			Height:       bounds.Dy(),
			Payload:      buf.Bytes(),
			UploadedAt:   s.deps.Clock().UTC(),
			IsPDF:        true,
			PageNumber:   page,
		})
	}

	if len(items) == 0 {
		return s.pdfPlaceholder(up, u)
	}
	u.notify(NoticeInfo, fmt.Sprintf("Converted %s into %d page images.", up.Name, len(items)))
	return items
}

func (s *Session) pdfPlaceholder(up Upload, u *Update) []domain.Item {
	thumb, err := raster.PlaceholderThumbnail()
	if err != nil {
		s.logger.Warn("draw pdf thumbnail failed", zap.Error(err))
	}
	u.notify(NoticeInfo, fmt.Sprintf("%s was stored as a PDF placeholder; its pages could not be rendered.", up.Name))
	return []domain.Item{{
		ID:           s.deps.NewID(),
		Name:         up.Name,
		OriginalName: up.Name,
		Size:         int64(len(up.Data)),
		MimeType:     domain.MIMETypePDF,
		Width:        raster.PlaceholderWidth,
		Height:       raster.PlaceholderHeight,
		Payload:      up.Data,
		Thumbnail:    thumb,
		UploadedAt:   s.deps.Clock().UTC(),
		IsPDF:        true,
	}}
}

// detectMIME trusts a declared image or pdf type and sniffs the content otherwise.
func detectMIME(up Upload) string {
	declared := strings.ToLower(strings.TrimSpace(up.MimeType))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if domain.Supported(declared) {
		return declared
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}

	sniffed := http.DetectContentType(up.Data)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	return sniffed
}
