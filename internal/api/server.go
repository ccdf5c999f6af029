// Package api exposes the converter session, async exports and the versions widgets
// over HTTP. Every converter route is translated into one converter.Action.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/imagetea/internal/converter"
	"github.com/dunamismax/imagetea/internal/domain"
	"github.com/dunamismax/imagetea/internal/id"
	"github.com/dunamismax/imagetea/internal/pipeline"
	"github.com/dunamismax/imagetea/internal/queue"
	"github.com/dunamismax/imagetea/internal/store"
	"github.com/dunamismax/imagetea/internal/versions"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultMaxUploadBytes = 64 << 20
	multipartMemory       = 32 << 20
)

// Dispatcher runs converter actions. *converter.Session implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, a converter.Action) (converter.Update, error)
}

// VersionService backs the versions routes. *versions.Service implements it.
type VersionService interface {
	Landing(ctx context.Context) versions.Landing
	Page(ctx context.Context) versions.Page
}

type ExportQueue interface {
	EnqueueExportBundle(ctx context.Context, payload queue.ExportBundlePayload) (*asynq.TaskInfo, error)
}

type LinkSigner interface {
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// Deps are the server's collaborators. Session is required; async exports need both
// Exports and Queue, and download links need Links.
type Deps struct {
	Session        Dispatcher
	Versions       VersionService
	Exports        store.ExportStore
	Queue          ExportQueue
	Links          LinkSigner
	LinkTTL        time.Duration
	MaxUploadBytes int64
	NewID          func() string
	Clock          func() time.Time
}

type Server struct {
	logger         *zap.Logger
	session        Dispatcher
	versions       VersionService
	exports        store.ExportStore
	queue          ExportQueue
	links          LinkSigner
	linkTTL        time.Duration
	maxUploadBytes int64
	newID          func() string
	now            func() time.Time
	metrics        *metrics
	tracer         trace.Tracer
	mux            *http.ServeMux
}

func NewServer(logger *zap.Logger, deps Deps) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	if deps.LinkTTL <= 0 {
		deps.LinkTTL = 15 * time.Minute
	}
	if deps.NewID == nil {
		deps.NewID = id.New
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	s := &Server{
		logger:         logger,
		session:        deps.Session,
		versions:       deps.Versions,
		exports:        deps.Exports,
		queue:          deps.Queue,
		links:          deps.Links,
		linkTTL:        deps.LinkTTL,
		maxUploadBytes: deps.MaxUploadBytes,
		newID:          deps.NewID,
		now:            deps.Clock,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("imagetea/api"),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.HandleFunc("GET /v1/session", s.handleSession)
	s.mux.HandleFunc("GET /v1/items", s.handleListItems)
	s.mux.HandleFunc("POST /v1/items", s.handleImport)
	s.mux.HandleFunc("DELETE /v1/items", s.handleClear)
	s.mux.HandleFunc("DELETE /v1/items/{id}", s.handleRemove)
	s.mux.HandleFunc("GET /v1/items/{id}/preview", s.handlePreview)
	s.mux.HandleFunc("POST /v1/items/{id}/convert", s.handleConvert)
	s.mux.HandleFunc("POST /v1/selection", s.handleSelection)
	s.mux.HandleFunc("PUT /v1/settings", s.handleSettings)
	s.mux.HandleFunc("PUT /v1/view", s.handleView)

	s.mux.HandleFunc("POST /v1/exports", s.handleExport)
	s.mux.HandleFunc("POST /v1/exports/async", s.handleCreateAsyncExport)
	s.mux.HandleFunc("GET /v1/exports/{id}", s.handleGetExport)

	s.mux.HandleFunc("GET /v1/versions", s.handleVersions)
	s.mux.HandleFunc("GET /v1/versions/latest", s.handleLatestVersions)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, converter.Action{Kind: converter.ActionView})
}

// handleListItems applies the optional q and page parameters before returning the view.
// handleListItems is read-only: it reports the current page under the current filter.
// Changing either goes through PUT /v1/view.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, converter.Action{Kind: converter.ActionView})
}

// viewRequest moves the session's search filter and page. Omitted fields keep their
// current value.
type viewRequest struct {
	Query *string `json:"query"`
	Page  *int    `json:"page"`
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Query != nil {
		if _, err := s.session.Dispatch(r.Context(), converter.Action{Kind: converter.ActionFilter, Query: *req.Query}); err != nil {
			s.writeDispatchError(w, converter.Update{}, err)
			return
		}
	}
	if req.Page != nil {
		s.dispatch(w, r, converter.Action{Kind: converter.ActionPage, Page: *req.Page})
		return
	}
	s.dispatch(w, r, converter.Action{Kind: converter.ActionView})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with files")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files in upload")
		return
	}

	uploads := make([]converter.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("read %s: %v", fh.Filename, err))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("read %s: %v", fh.Filename, err))
			return
		}
		uploads = append(uploads, converter.Upload{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	s.metrics.uploadsTotal.Add(float64(len(uploads)))
	s.dispatch(w, r, converter.Action{Kind: converter.ActionImport, Uploads: uploads})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, converter.Action{Kind: converter.ActionClear})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, converter.Action{Kind: converter.ActionRemove, ItemID: r.PathValue("id")})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.download(w, r, converter.Action{Kind: converter.ActionPreview, ItemID: r.PathValue("id")})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	s.download(w, r, converter.Action{Kind: converter.ActionConvert, ItemID: r.PathValue("id")})
}

type selectionRequest struct {
	Action  string   `json:"action"`
	ItemIDs []string `json:"item_ids"`
}

var selectionKinds = map[string]converter.ActionKind{
	"select":       converter.ActionSelect,
	"deselect":     converter.ActionDeselect,
	"select_all":   converter.ActionSelectAll,
	"deselect_all": converter.ActionDeselectAll,
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, ok := selectionKinds[req.Action]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown selection action %q", req.Action))
		return
	}
	s.dispatch(w, r, converter.Action{Kind: kind, ItemIDs: req.ItemIDs})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.dispatch(w, r, converter.Action{Kind: converter.ActionUpdateSettings, Settings: &settings})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, a converter.Action) {
	u, err := s.session.Dispatch(r.Context(), a)
	if err != nil {
		s.writeDispatchError(w, u, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request, a converter.Action) {
	u, err := s.session.Dispatch(r.Context(), a)
	if err != nil {
		s.writeDispatchError(w, u, err)
		return
	}
	if u.Download == nil {
		writeJSON(w, http.StatusOK, u)
		return
	}
	writeDownload(w, u.Download)
}

type errorResponse struct {
	Error   string             `json:"error"`
	Notices []converter.Notice `json:"notices,omitempty"`
}

func (s *Server) writeDispatchError(w http.ResponseWriter, u converter.Update, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("session action failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Notices: u.Notices})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, converter.ErrItemNotFound), errors.Is(err, store.ErrExportNotFound):
		return http.StatusNotFound
	case errors.Is(err, converter.ErrUnknownAction),
		errors.Is(err, converter.ErrNoValidFiles),
		errors.Is(err, converter.ErrInvalidSettings),
		errors.Is(err, converter.ErrEmptySelection):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrPDFNotRasterized),
		errors.Is(err, pipeline.ErrFormatUnavailable),
		errors.Is(err, pipeline.ErrInvalidDimensions):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeDownload(w http.ResponseWriter, d *converter.Download) {
	disposition := "attachment"
	if d.Inline {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", d.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(d.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, d.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(d.Data)
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, into any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, into)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
