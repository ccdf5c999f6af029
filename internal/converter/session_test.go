package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/dunamismax/imagetea/internal/domain"
	"github.com/dunamismax/imagetea/internal/pipeline"
	"github.com/dunamismax/imagetea/internal/raster"
	"github.com/dunamismax/imagetea/internal/store"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 6, 22, 9, 30, 0, 0, time.UTC)

func newTestSession(t *testing.T, deps Deps) *Session {
	t.Helper()
	n := 0
	if deps.NewID == nil {
		deps.NewID = func() string {
			n++
			return fmt.Sprintf("item-%02d", n)
		}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return testNow }
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Rasterizer == nil {
		deps.Rasterizer = fakeRasterizer{err: raster.ErrUnavailable}
	}
	return NewSession(deps)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func dispatch(t *testing.T, s *Session, a Action) Update {
	t.Helper()
	u, err := s.Dispatch(context.Background(), a)
	require.NoError(t, err)
	return u
}

func importImages(t *testing.T, s *Session, names ...string) Update {
	t.Helper()
	uploads := make([]Upload, len(names))
	for i, name := range names {
		uploads[i] = Upload{Name: name, MimeType: "image/png", Data: pngBytes(t, 40, 20)}
	}
	return dispatch(t, s, Action{Kind: ActionImport, Uploads: uploads})
}

type fakeRasterizer struct {
	pages   int
	failOn  map[int]bool
	err     error
	size    image.Rectangle
	closeFn func()
}

func (f fakeRasterizer) Open([]byte) (raster.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeDocument{r: f}, nil
}

type fakeDocument struct {
	r fakeRasterizer
}

func (d *fakeDocument) NumPages() int { return d.r.pages }

func (d *fakeDocument) RenderPage(_ context.Context, page int) (image.Image, error) {
	if d.r.failOn[page] {
		return nil, errors.New("render failed")
	}
	return image.NewRGBA(d.r.size), nil
}

func (d *fakeDocument) Close() error {
	if d.r.closeFn != nil {
		d.r.closeFn()
	}
	return nil
}

type failingStore struct {
	store.MemoryItemStore
}

func (f *failingStore) Put(context.Context, domain.Item) error { return errors.New("disk full") }
func (f *failingStore) Delete(context.Context, string) error   { return errors.New("disk full") }
func (f *failingStore) Clear(context.Context) error            { return errors.New("disk full") }

func TestImportImagesPersistsAndReportsProgress(t *testing.T) {
	items := store.NewMemoryItemStore()
	s := newTestSession(t, Deps{Store: items})

	u := importImages(t, s, "a.png", "b.png")
	require.NotNil(t, u.View)
	assert.Equal(t, 2, u.View.TotalItems)
	assert.Equal(t, []Progress{
		{Done: 1, Total: 2, Label: "Processing a.png"},
		{Done: 2, Total: 2, Label: "Processing b.png"},
	}, u.Progress)

	first := u.View.Items[0]
	assert.Equal(t, "item-01", first.ID)
	assert.Equal(t, 40, first.Width)
	assert.Equal(t, 20, first.Height)
	assert.Equal(t, "JPEG", first.Estimate.Format)
	assert.Equal(t, pipeline.TransformResult{Width: 40, Height: 20}, first.Output)

	stored, err := items.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Equal(t, testNow, stored[0].UploadedAt)
}

func TestImportSkipsUnsupportedAndUnreadableFiles(t *testing.T) {
	s := newTestSession(t, Deps{})

	u, err := s.Dispatch(context.Background(), Action{Kind: ActionImport, Uploads: []Upload{
		{Name: "notes.txt", MimeType: "text/plain", Data: []byte("hello")},
		{Name: "broken.png", MimeType: "image/png", Data: []byte("not a png")},
		{Name: "ok.png", Data: pngBytes(t, 4, 4)},
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, u.View.TotalItems)
	assert.Equal(t, "ok.png", u.View.Items[0].Name)
	assert.Equal(t, "image/png", u.View.Items[0].MimeType, "sniffed from content")
	require.Len(t, u.Notices, 2)
	assert.Equal(t, NoticeWarning, u.Notices[0].Level)
	assert.Contains(t, u.Notices[0].Message, "notes.txt")
	assert.Equal(t, NoticeError, u.Notices[1].Level)
	assert.Contains(t, u.Notices[1].Message, "broken.png")
}

func TestImportWithNoValidFiles(t *testing.T) {
	s := newTestSession(t, Deps{})
	u, err := s.Dispatch(context.Background(), Action{Kind: ActionImport, Uploads: []Upload{
		{Name: "a.txt", Data: []byte("plain text")},
	}})
	assert.ErrorIs(t, err, ErrNoValidFiles)
	assert.NotEmpty(t, u.Notices)
}

func TestImportPDFPages(t *testing.T) {
	closed := 0
	s := newTestSession(t, Deps{Rasterizer: fakeRasterizer{
		pages:   3,
		failOn:  map[int]bool{2: true},
		size:    image.Rect(0, 0, 1190, 1684),
		closeFn: func() { closed++ },
	}})

	pdf := bytes.Repeat([]byte("%PDF"), 25)
	u := dispatch(t, s, Action{Kind: ActionImport, Uploads: []Upload{{Name: "report.pdf", MimeType: "application/pdf", Data: pdf}}})

	require.Equal(t, 2, u.View.TotalItems)
	assert.Equal(t, 1, closed)

	page1 := u.View.Items[0]
	assert.Equal(t, "report_page_1.png", page1.Name)
	assert.Equal(t, int64(100/3), page1.Size)
	assert.Equal(t, "image/png", page1.MimeType)
	assert.Equal(t, 1190, page1.Width)
	assert.Equal(t, "PDF Page 1", page1.Badge)
	assert.False(t, page1.Placeholder)
	assert.Equal(t, "report_page_3.png", u.View.Items[1].Name)

	assert.Contains(t, u.Progress, Progress{Done: 2, Total: 3, Label: "Rendering page 2 of 3"})
	assert.Contains(t, u.Notices[len(u.Notices)-1].Message, "2 page images")
}

func TestImportPDFPlaceholderWhenRasterUnavailable(t *testing.T) {
	s := newTestSession(t, Deps{})
	pdf := []byte("%PDF-1.7 minimal")

	u := dispatch(t, s, Action{Kind: ActionImport, Uploads: []Upload{{Name: "scan.pdf", Data: pdf}}})
	require.Equal(t, 1, u.View.TotalItems)

	item := u.View.Items[0]
	assert.True(t, item.Placeholder)
	assert.Equal(t, "PDF", item.Badge)
	assert.Equal(t, "application/pdf", item.MimeType)
	assert.Equal(t, raster.PlaceholderWidth, item.Width)
	assert.Equal(t, raster.PlaceholderHeight, item.Height)

	preview := dispatch(t, s, Action{Kind: ActionPreview, ItemID: item.ID})
	require.NotNil(t, preview.Download)
	assert.Equal(t, "image/png", preview.Download.MimeType)
	assert.True(t, preview.Download.Inline)

	cfg, err := png.DecodeConfig(bytes.NewReader(preview.Download.Data))
	require.NoError(t, err)
	assert.Equal(t, 150, cfg.Width)

	_, err = s.Dispatch(context.Background(), Action{Kind: ActionConvert, ItemID: item.ID})
	assert.ErrorIs(t, err, pipeline.ErrPDFNotRasterized)
}

func TestImportPDFPlaceholderWhenNoPageRenders(t *testing.T) {
	s := newTestSession(t, Deps{Rasterizer: fakeRasterizer{pages: 1, failOn: map[int]bool{1: true}}})
	u := dispatch(t, s, Action{Kind: ActionImport, Uploads: []Upload{{Name: "x.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}}})
	require.Equal(t, 1, u.View.TotalItems)
	assert.True(t, u.View.Items[0].Placeholder)
}

func TestStoreFailuresWarnButKeepState(t *testing.T) {
	s := newTestSession(t, Deps{Store: &failingStore{}})

	u := importImages(t, s, "a.png", "b.png")
	assert.Equal(t, 2, u.View.TotalItems)
	require.Len(t, u.Notices, 1)
	assert.Equal(t, Notice{Level: NoticeWarning, Message: storageWarning}, u.Notices[0])

	u = dispatch(t, s, Action{Kind: ActionRemove, ItemID: "item-01"})
	assert.Equal(t, 1, u.View.TotalItems)
	assert.Len(t, u.Notices, 1)

	u = dispatch(t, s, Action{Kind: ActionClear})
	assert.True(t, u.View.Empty)
	assert.Len(t, u.Notices, 1)
}

func TestRestoreLoadsStoredItems(t *testing.T) {
	items := store.NewMemoryItemStore()
	require.NoError(t, items.Put(context.Background(), domain.Item{ID: "old", Name: "old.png", Size: 10, Width: 1, Height: 1}))

	s := newTestSession(t, Deps{Store: items})
	require.NoError(t, s.Restore(context.Background()))

	u := dispatch(t, s, Action{Kind: ActionView})
	require.Equal(t, 1, u.View.TotalItems)
	assert.Equal(t, "old", u.View.Items[0].ID)
}

func TestRemoveAndClear(t *testing.T) {
	s := newTestSession(t, Deps{})
	importImages(t, s, "a.png", "b.png", "c.png")
	dispatch(t, s, Action{Kind: ActionSelect, ItemIDs: []string{"item-01", "item-02"}})
	dispatch(t, s, Action{Kind: ActionFilter, Query: "A"})

	u := dispatch(t, s, Action{Kind: ActionRemove, ItemID: "item-01"})
	assert.Equal(t, 2, u.View.TotalItems)
	assert.Equal(t, 1, u.View.SelectedCount)
	assert.True(t, u.View.NoResults)

	_, err := s.Dispatch(context.Background(), Action{Kind: ActionRemove, ItemID: "item-01"})
	assert.ErrorIs(t, err, ErrItemNotFound)

	u = dispatch(t, s, Action{Kind: ActionClear})
	assert.True(t, u.View.Empty)
	assert.Zero(t, u.View.SelectedCount)
	assert.Empty(t, u.View.Query)
	assert.Equal(t, 1, u.View.Page)
}

func TestSelection(t *testing.T) {
	s := newTestSession(t, Deps{})
	importImages(t, s, "cat.png", "dog.png", "catalog.png")

	u := dispatch(t, s, Action{Kind: ActionSelect, ItemID: "item-02"})
	assert.Equal(t, 1, u.View.SelectedCount)
	assert.True(t, u.View.Items[1].Selected)

	_, err := s.Dispatch(context.Background(), Action{Kind: ActionSelect, ItemID: "nope"})
	assert.ErrorIs(t, err, ErrItemNotFound)

	dispatch(t, s, Action{Kind: ActionDeselect, ItemID: "item-02"})
	dispatch(t, s, Action{Kind: ActionFilter, Query: "CAT"})

	// select all only takes filtered items
	u = dispatch(t, s, Action{Kind: ActionSelectAll})
	assert.Equal(t, 2, u.View.SelectedCount)
	assert.Equal(t, 2, u.View.FilteredItems)

	u = dispatch(t, s, Action{Kind: ActionDeselectAll})
	assert.Zero(t, u.View.SelectedCount)
}

func TestPagination(t *testing.T) {
	s := newTestSession(t, Deps{})
	names := make([]string, 30)
	for i := range names {
		names[i] = fmt.Sprintf("img-%02d.png", i)
	}
	u := importImages(t, s, names...)

	assert.Len(t, u.View.Items, PageSize)
	assert.Equal(t, 3, u.View.PageCount)
	assert.True(t, u.View.HasNext)
	assert.False(t, u.View.HasPrev)

	u = dispatch(t, s, Action{Kind: ActionPage, Page: 3})
	assert.Equal(t, 3, u.View.Page)
	assert.Len(t, u.View.Items, 6)
	assert.Equal(t, "img-24.png", u.View.Items[0].Name)

	u = dispatch(t, s, Action{Kind: ActionPage, Page: 99})
	assert.Equal(t, 3, u.View.Page)

	// filtering resets to the first page
	u = dispatch(t, s, Action{Kind: ActionFilter, Query: "img-2"})
	assert.Equal(t, 1, u.View.Page)
	assert.Equal(t, 10, u.View.FilteredItems)
	assert.Equal(t, 1, u.View.PageCount)
	assert.Empty(t, u.View.PageLinks)
}

func TestPageLinks(t *testing.T) {
	assert.Equal(t, []PageLink{
		{Page: 1, Current: true}, {Page: 2}, {Page: 3}, {Ellipsis: true}, {Page: 10},
	}, PageLinks(1, 10))

	assert.Equal(t, []PageLink{
		{Page: 1}, {Ellipsis: true}, {Page: 4}, {Page: 5}, {Page: 6, Current: true}, {Page: 7}, {Page: 8}, {Ellipsis: true}, {Page: 10},
	}, PageLinks(6, 10))

	assert.Equal(t, []PageLink{
		{Page: 1}, {Page: 2}, {Page: 3, Current: true}, {Page: 4}, {Page: 5}, {Ellipsis: true}, {Page: 20},
	}, PageLinks(3, 20))
}

func TestUpdateSettingsRecomputesEstimates(t *testing.T) {
	s := newTestSession(t, Deps{})
	importImages(t, s, "a.png")

	next := domain.Settings{Format: domain.FormatWebP, Quality: 0.5, Resize: domain.ResizeByPercent(50), Crop: domain.CropTo("1:1")}
	u := dispatch(t, s, Action{Kind: ActionUpdateSettings, Settings: &next})

	item := u.View.Items[0]
	assert.Equal(t, next, u.View.Settings)
	assert.Equal(t, "WEBP", item.Estimate.Format)
	assert.Equal(t, pipeline.TransformResult{Width: 10, Height: 10}, item.Output)

	bad := next
	bad.Quality = 2
	_, err := s.Dispatch(context.Background(), Action{Kind: ActionUpdateSettings, Settings: &bad})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = s.Dispatch(context.Background(), Action{Kind: ActionUpdateSettings})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestConvertSingleItem(t *testing.T) {
	s := newTestSession(t, Deps{})
	importImages(t, s, "photo.final.png")

	u := dispatch(t, s, Action{Kind: ActionConvert, ItemID: "item-01"})
	require.NotNil(t, u.Download)
	assert.Equal(t, "photo.final_converted.jpg", u.Download.FileName)
	assert.Equal(t, "image/jpeg", u.Download.MimeType)
	assert.False(t, u.Download.Inline)

	_, err := s.Dispatch(context.Background(), Action{Kind: ActionConvert, ItemID: "missing"})
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestExportSelectionToZip(t *testing.T) {
	s := newTestSession(t, Deps{Rasterizer: fakeRasterizer{pages: 2, size: image.Rect(0, 0, 8, 8)}})
	importImages(t, s, "a.png", "b.png")
	dispatch(t, s, Action{Kind: ActionImport, Uploads: []Upload{{Name: "doc.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}}})

	_, err := s.Dispatch(context.Background(), Action{Kind: ActionExport})
	assert.ErrorIs(t, err, ErrEmptySelection)

	dispatch(t, s, Action{Kind: ActionSelect, ItemIDs: []string{"item-04", "item-01", "item-03"}})
	u := dispatch(t, s, Action{Kind: ActionExport})

	require.NotNil(t, u.Download)
	assert.Equal(t, "converted_images_2025-06-22.zip", u.Download.FileName)
	assert.Equal(t, "application/zip", u.Download.MimeType)
	require.NotNil(t, u.Report)
	assert.Equal(t, 3, u.Report.Packed)
	assert.Len(t, u.Progress, 3)

	r, err := zip.NewReader(bytes.NewReader(u.Download.Data), int64(len(u.Download.Data)))
	require.NoError(t, err)
	var entries []string
	for _, f := range r.File {
		entries = append(entries, f.Name)
	}
	assert.Equal(t, []string{"a_converted.jpg", "doc_page_1_converted.jpg", "doc_page_2_converted.jpg"}, entries)
}

func TestExportSkipsPlaceholders(t *testing.T) {
	s := newTestSession(t, Deps{})
	importImages(t, s, "a.png")
	dispatch(t, s, Action{Kind: ActionImport, Uploads: []Upload{{Name: "scan.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}}})

	u := dispatch(t, s, Action{Kind: ActionExport, ItemIDs: []string{"item-01", "item-02"}})
	assert.Equal(t, 1, u.Report.Packed)
	assert.Equal(t, []string{"item-02"}, u.Report.Skipped)
	require.NotEmpty(t, u.Notices)
	assert.Equal(t, NoticeWarning, u.Notices[0].Level)
}

func TestPlanExport(t *testing.T) {
	s := newTestSession(t, Deps{})
	importImages(t, s, "a.png", "b.png")

	_, err := s.Dispatch(context.Background(), Action{Kind: ActionPlanExport})
	assert.ErrorIs(t, err, ErrEmptySelection)

	dispatch(t, s, Action{Kind: ActionSelectAll})
	u := dispatch(t, s, Action{Kind: ActionPlanExport})
	require.NotNil(t, u.Plan)
	assert.Equal(t, []string{"item-01", "item-02"}, u.Plan.ItemIDs)
	assert.Equal(t, domain.DefaultSettings(), u.Plan.Settings)

	_, err = s.Dispatch(context.Background(), Action{Kind: ActionPlanExport, ItemIDs: []string{"ghost"}})
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestUnknownAction(t *testing.T) {
	s := newTestSession(t, Deps{})
	_, err := s.Dispatch(context.Background(), Action{Kind: "explode"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "image/png", detectMIME(Upload{MimeType: "image/png; charset=binary"}))
	assert.Equal(t, "image/png", detectMIME(Upload{MimeType: "application/octet-stream", Data: pngBytes(t, 1, 1)}))
	assert.Equal(t, "application/pdf", detectMIME(Upload{Data: []byte("%PDF-1.4\n")}))
	assert.Equal(t, "text/plain", detectMIME(Upload{MimeType: "text/plain", Data: pngBytes(t, 1, 1)}))
}
