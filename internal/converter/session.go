// Package converter owns the single conversion session: imported items, selection,
// search and paging state, and the current conversion settings. Every change goes
// through Session.Dispatch.
package converter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dunamismax/imagetea/internal/archive"
	"github.com/dunamismax/imagetea/internal/domain"
	"github.com/dunamismax/imagetea/internal/id"
	"github.com/dunamismax/imagetea/internal/pipeline"
	"github.com/dunamismax/imagetea/internal/raster"
	"github.com/dunamismax/imagetea/internal/store"
	"go.uber.org/zap"
)

var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrNoValidFiles    = errors.New("no valid image or pdf files")
	ErrItemNotFound    = errors.New("item not found")
	ErrEmptySelection  = errors.New("no items selected")
	ErrInvalidSettings = errors.New("invalid settings")
)

const storageWarning = "Saving to the item store failed. Some items may be missing after a restart."

// Deps are the session's collaborators. Zero fields get working defaults.
type Deps struct {
	Store      store.ItemStore
	NewBundle  func(now time.Time) pipeline.Bundle
	Rasterizer raster.Rasterizer
	Processor  *pipeline.Processor
	Clock      func() time.Time
	NewID      func() string
	Logger     *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Store == nil {
		d.Store = store.NewMemoryItemStore()
	}
	if d.NewBundle == nil {
		d.NewBundle = func(now time.Time) pipeline.Bundle { return archive.NewZip(now) }
	}
	if d.Rasterizer == nil {
		d.Rasterizer = raster.New()
	}
	if d.Processor == nil {
		d.Processor = pipeline.NewProcessor(nil, d.Logger)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.NewID == nil {
		d.NewID = id.New
	}
	return d
}

type handler func(s *Session, ctx context.Context, a Action) (Update, error)

var handlers = map[ActionKind]handler{
	ActionView:           (*Session).handleView,
	ActionImport:         (*Session).handleImport,
	ActionRemove:         (*Session).handleRemove,
	ActionClear:          (*Session).handleClear,
	ActionSelect:         (*Session).handleSelect,
	ActionDeselect:       (*Session).handleDeselect,
	ActionSelectAll:      (*Session).handleSelectAll,
	ActionDeselectAll:    (*Session).handleDeselectAll,
	ActionFilter:         (*Session).handleFilter,
	ActionPage:           (*Session).handlePage,
	ActionUpdateSettings: (*Session).handleUpdateSettings,
	ActionConvert:        (*Session).handleConvert,
	ActionPreview:        (*Session).handlePreview,
	ActionExport:         (*Session).handleExport,
	ActionPlanExport:     (*Session).handlePlanExport,
}

type Session struct {
	mu       sync.Mutex
	deps     Deps
	logger   *zap.Logger
	items    []domain.Item
	selected map[string]struct{}
	filter   string
	page     int
	settings domain.Settings
}

func NewSession(deps Deps) *Session {
	deps = deps.withDefaults()
	return &Session{
		deps:     deps,
		logger:   deps.Logger,
		selected: make(map[string]struct{}),
		page:     1,
		settings: domain.DefaultSettings(),
	}
}

// Restore loads previously stored items. On failure the session starts empty.
func (s *Session) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.deps.Store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("restore items: %w", err)
	}
	s.items = items
	s.logger.Info("session restored", zap.Int("items", len(items)))
	return nil
}

// Dispatch runs one action. Actions are serialized; the returned Update carries
// notices even when err is non-nil.
func (s *Session) Dispatch(ctx context.Context, a Action) (Update, error) {
	h, ok := handlers[a.Kind]
	if !ok {
		return Update{}, fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return h(s, ctx, a)
}

func (s *Session) handleView(context.Context, Action) (Update, error) {
	return Update{View: s.view()}, nil
}

func (s *Session) handleRemove(ctx context.Context, a Action) (Update, error) {
	idx := s.indexOf(a.ItemID)
	if idx < 0 {
		return Update{}, fmt.Errorf("%w: %s", ErrItemNotFound, a.ItemID)
	}

	s.items = append(s.items[:idx], s.items[idx+1:]...)
	delete(s.selected, a.ItemID)

	var u Update
	if err := s.deps.Store.Delete(ctx, a.ItemID); err != nil {
		s.storageFailed(&u, "delete", err)
	}
	u.View = s.view()
	return u, nil
}

func (s *Session) handleClear(ctx context.Context, _ Action) (Update, error) {
	s.items = nil
	s.selected = make(map[string]struct{})
	s.filter = ""
	s.page = 1

	var u Update
	if err := s.deps.Store.Clear(ctx); err != nil {
		s.storageFailed(&u, "clear", err)
	}
	u.View = s.view()
	return u, nil
}

func (s *Session) handleSelect(_ context.Context, a Action) (Update, error) {
	ids := actionIDs(a)
	for _, itemID := range ids {
		if s.indexOf(itemID) < 0 {
			return Update{View: s.view()}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
	}
	for _, itemID := range ids {
		s.selected[itemID] = struct{}{}
	}
	return Update{View: s.view()}, nil
}

func (s *Session) handleDeselect(_ context.Context, a Action) (Update, error) {
	for _, itemID := range actionIDs(a) {
		delete(s.selected, itemID)
	}
	return Update{View: s.view()}, nil
}

// handleSelectAll selects every item matching the current filter.
func (s *Session) handleSelectAll(context.Context, Action) (Update, error) {
	for _, item := range s.filtered() {
		s.selected[item.ID] = struct{}{}
	}
	return Update{View: s.view()}, nil
}

func (s *Session) handleDeselectAll(context.Context, Action) (Update, error) {
	s.selected = make(map[string]struct{})
	return Update{View: s.view()}, nil
}

func (s *Session) handleFilter(_ context.Context, a Action) (Update, error) {
	s.filter = strings.ToLower(a.Query)
	s.page = 1
	return Update{View: s.view()}, nil
}

func (s *Session) handlePage(_ context.Context, a Action) (Update, error) {
	pageCount := (len(s.filtered()) + PageSize - 1) / PageSize
	s.page = max(1, min(a.Page, pageCount))
	return Update{View: s.view()}, nil
}

func (s *Session) handleUpdateSettings(_ context.Context, a Action) (Update, error) {
	if a.Settings == nil {
		return Update{}, fmt.Errorf("%w: settings are required", ErrInvalidSettings)
	}
	if err := a.Settings.Validate(); err != nil {
		return Update{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	s.settings = *a.Settings
	return Update{View: s.view()}, nil
}

func (s *Session) handleConvert(ctx context.Context, a Action) (Update, error) {
	item, ok := s.find(a.ItemID)
	if !ok {
		return Update{}, fmt.Errorf("%w: %s", ErrItemNotFound, a.ItemID)
	}

	var u Update
	if item.Placeholder() {
		u.notify(NoticeError, "This PDF has not been converted to page images. Upload it again in a build with PDF rendering.")
		return u, pipeline.ErrPDFNotRasterized
	}

	out, err := s.deps.Processor.Convert(ctx, item, s.settings)
	if err != nil {
		s.logger.Warn("convert failed", zap.String("item_id", item.ID), zap.Error(err))
		u.notify(NoticeError, fmt.Sprintf("Could not convert %s.", item.Name))
		return u, err
	}

	u.Download = &Download{FileName: out.FileName, MimeType: out.MimeType, Data: out.Data}
	return u, nil
}

func (s *Session) handlePreview(_ context.Context, a Action) (Update, error) {
	item, ok := s.find(a.ItemID)
	if !ok {
		return Update{}, fmt.Errorf("%w: %s", ErrItemNotFound, a.ItemID)
	}
	data, mimeType := item.PreviewBytes()
	return Update{Download: &Download{FileName: item.Name, MimeType: mimeType, Data: data, Inline: true}}, nil
}

// handleExport packs the requested items, or the selection when none are named, into
// one zip. Items that fail to convert are left out.
func (s *Session) handleExport(ctx context.Context, a Action) (Update, error) {
	var u Update
	items, err := s.exportItems(a)
	if errors.Is(err, ErrEmptySelection) {
		u.notify(NoticeWarning, "Select at least one image to convert.")
		return u, err
	}
	if err != nil {
		return u, err
	}

	now := s.deps.Clock()
	report, data, err := s.deps.Processor.Export(ctx, items, s.settings, s.deps.NewBundle(now), func(done, total int, label string) {
		u.progress(done, total, "Processing "+label)
	})
	if err != nil {
		s.logger.Error("export failed", zap.Int("items", len(items)), zap.Error(err))
		u.notify(NoticeError, "Could not create the zip file.")
		return u, err
	}

	report.FileName = archive.BundleName(now)
	if n := len(report.Skipped); n > 0 {
		u.notify(NoticeWarning, fmt.Sprintf("%d of %d items could not be converted and were left out.", n, len(items)))
	}
	u.Report = &report
	u.Download = &Download{FileName: report.FileName, MimeType: "application/zip", Data: data}
	return u, nil
}

func (s *Session) handlePlanExport(_ context.Context, a Action) (Update, error) {
	items, err := s.exportItems(a)
	if err != nil {
		return Update{}, err
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return Update{Plan: &ExportPlan{ItemIDs: ids, Settings: s.settings}}, nil
}

// exportItems resolves a.ItemIDs, or the current selection in item order.
func (s *Session) exportItems(a Action) ([]domain.Item, error) {
	if len(a.ItemIDs) > 0 {
		items, missing := store.ItemsByID(s.items, a.ItemIDs)
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, strings.Join(missing, ", "))
		}
		return items, nil
	}

	var items []domain.Item
	for _, item := range s.items {
		if _, ok := s.selected[item.ID]; ok {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return nil, ErrEmptySelection
	}
	return items, nil
}

func (s *Session) indexOf(itemID string) int {
	for i, item := range s.items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

func (s *Session) find(itemID string) (domain.Item, bool) {
	if i := s.indexOf(itemID); i >= 0 {
		return s.items[i], true
	}
	return domain.Item{}, false
}

func (s *Session) storageFailed(u *Update, op string, err error) {
	s.logger.Warn("item store write failed", zap.String("op", op), zap.Error(err))
	for _, n := range u.Notices {
		if n.Message == storageWarning {
			return
		}
	}
	u.notify(NoticeWarning, storageWarning)
}

func actionIDs(a Action) []string {
	if a.ItemID == "" {
		return a.ItemIDs
	}
	return append([]string{a.ItemID}, a.ItemIDs...)
}
