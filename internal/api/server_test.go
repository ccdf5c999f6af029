package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/imagetea/internal/converter"
	"github.com/dunamismax/imagetea/internal/domain"
	"github.com/dunamismax/imagetea/internal/queue"
	"github.com/dunamismax/imagetea/internal/raster"
	"github.com/dunamismax/imagetea/internal/store"
	"github.com/dunamismax/imagetea/internal/versions"
	"github.com/hibiken/asynq"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)

type noRaster struct{}

func (noRaster) Open([]byte) (raster.Document, error) { return nil, raster.ErrUnavailable }

type fakeVersions struct{}

func (fakeVersions) Landing(context.Context) versions.Landing {
	return versions.Landing{Desktop: versions.Badge{Text: "v3.0.0"}, Web: versions.Badge{Text: "v2.1.0 Web", Fallback: true}}
}

func (fakeVersions) Page(context.Context) versions.Page {
	return versions.Page{Available: true, AllTagsURL: "https://github.com/example/desktop/tags"}
}

type fakeQueue struct {
	payloads []queue.ExportBundlePayload
	err      error
	// onEnqueue runs before Enqueue returns, like a worker that picks the task up at once.
	onEnqueue func(payload queue.ExportBundlePayload)
}

func (q *fakeQueue) EnqueueExportBundle(_ context.Context, payload queue.ExportBundlePayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	if q.onEnqueue != nil {
		q.onEnqueue(payload)
	}
	return &asynq.TaskInfo{ID: payload.ExportID, Queue: "default", NextProcessAt: testNow}, nil
}

type fakeLinks struct{}

func (fakeLinks) PresignedGetURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://minio.example/" + objectKey + "?sig=1", nil
}

type testEnv struct {
	server  *Server
	handler http.Handler
	exports *store.MemoryExportStore
	queue   *fakeQueue
}

func newTestEnv(t *testing.T, async bool) testEnv {
	t.Helper()
	n := 0
	session := converter.NewSession(converter.Deps{
		Rasterizer: noRaster{},
		Clock:      func() time.Time { return testNow },
		NewID: func() string {
			n++
			return fmt.Sprintf("item-%d", n)
		},
		Logger: zap.NewNop(),
	})

	env := testEnv{exports: store.NewMemoryExportStore(), queue: &fakeQueue{}}
	deps := Deps{
		Session:  session,
		Versions: fakeVersions{},
		Links:    fakeLinks{},
		NewID:    func() string { return "exp-1" },
		Clock:    func() time.Time { return testNow },
	}
	if async {
		deps.Exports = env.exports
		deps.Queue = env.queue
	}
	env.server = NewServer(zap.NewNop(), deps)
	env.handler = env.server.Handler()
	return env
}

func (e testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) upload(t *testing.T, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"a.png", "b.png", "notes.txt"} {
		data, ok := files[name]
		if !ok {
			continue
		}
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/items", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for x := 0; x < 16; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: 80, B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeUpdate(t *testing.T, rec *httptest.ResponseRecorder) converter.Update {
	t.Helper()
	var u converter.Update
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	return u
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestImportListAndFilter(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.upload(t, map[string][]byte{"a.png": testPNG(t), "b.png": testPNG(t), "notes.txt": []byte("hello")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	u := decodeUpdate(t, rec)
	require.NotNil(t, u.View)
	assert.Equal(t, 2, u.View.TotalItems)
	require.Len(t, u.Notices, 1)
	assert.Contains(t, u.Notices[0].Message, "notes.txt")

	rec = env.do(t, http.MethodPut, "/v1/view", `{"query":"B"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	u = decodeUpdate(t, rec)
	assert.Equal(t, 1, u.View.FilteredItems)
	assert.Equal(t, "b.png", u.View.Items[0].Name)

	rec = env.do(t, http.MethodPut, "/v1/view", `{"page":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/session", "")
	u = decodeUpdate(t, rec)
	assert.Equal(t, "b", u.View.Query)

	// listing ignores query parameters and leaves the view alone
	rec = env.do(t, http.MethodGet, "/v1/items?q=zzz&page=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	u = decodeUpdate(t, rec)
	assert.Equal(t, "b", u.View.Query)
	assert.Equal(t, 1, u.View.FilteredItems)
}

func TestImportRejectsNonMultipart(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/v1/items", `{"files":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportOnlyInvalidFiles(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.upload(t, map[string][]byte{"notes.txt": []byte("hello")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Notices)
}

func TestPreviewConvertAndRemove(t *testing.T) {
	env := newTestEnv(t, false)
	require.Equal(t, http.StatusOK, env.upload(t, map[string][]byte{"a.png": testPNG(t)}).Code)

	rec := env.do(t, http.MethodGet, "/v1/items/item-1/preview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename="a.png"`, rec.Header().Get("Content-Disposition"))

	rec = env.do(t, http.MethodPost, "/v1/items/item-1/convert", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="a_converted.jpg"`, rec.Header().Get("Content-Disposition"))

	rec = env.do(t, http.MethodPost, "/v1/items/missing/convert", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/items/item-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeUpdate(t, rec).View.Empty)
}

func TestConvertToWebP(t *testing.T) {
	env := newTestEnv(t, false)
	env.upload(t, map[string][]byte{"a.png": testPNG(t)})

	rec := env.do(t, http.MethodPut, "/v1/settings", `{"format":"webp","quality":0.8}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/items/item-1/convert", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="a_converted.webp"`, rec.Header().Get("Content-Disposition"))

	env.do(t, http.MethodPost, "/v1/selection", `{"action":"select_all"}`)
	rec = env.do(t, http.MethodPost, "/v1/exports", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get(HeaderPacked))
	assert.Equal(t, "0", rec.Header().Get(HeaderSkipped))
}

func TestSelectionAndSettings(t *testing.T) {
	env := newTestEnv(t, false)
	env.upload(t, map[string][]byte{"a.png": testPNG(t), "b.png": testPNG(t)})

	rec := env.do(t, http.MethodPost, "/v1/selection", `{"action":"select","item_ids":["item-2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeUpdate(t, rec).View.SelectedCount)

	rec = env.do(t, http.MethodPost, "/v1/selection", `{"action":"flip"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/selection", `{"action":"select","item_ids":["ghost"]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/settings", `{"format":"png","quality":0.9,"resize":{"kind":"percentage","percent":50},"crop":"1:1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	u := decodeUpdate(t, rec)
	assert.Equal(t, domain.FormatPNG, u.View.Settings.Format)
	assert.Equal(t, 4, u.View.Items[0].Output.Width)

	rec = env.do(t, http.MethodPut, "/v1/settings", `{"format":"png","quality":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/settings", `{"format":"png","colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncExport(t *testing.T) {
	env := newTestEnv(t, false)
	env.upload(t, map[string][]byte{"a.png": testPNG(t), "b.png": testPNG(t)})

	rec := env.do(t, http.MethodPost, "/v1/exports", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty selection")

	env.do(t, http.MethodPost, "/v1/selection", `{"action":"select_all"}`)
	rec = env.do(t, http.MethodPost, "/v1/exports", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="converted_images_2025-05-06.zip"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "2", rec.Header().Get(HeaderPacked))
	assert.Equal(t, "0", rec.Header().Get(HeaderSkipped))

	data := rec.Body.Bytes()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Len(t, r.File, 2)

	rec = env.do(t, http.MethodPost, "/v1/exports", `{"item_ids":["item-2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(HeaderPacked))
}

func TestAsyncExportDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/v1/exports/async", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/exports/exp-1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAsyncExportLifecycle(t *testing.T) {
	env := newTestEnv(t, true)
	env.upload(t, map[string][]byte{"a.png": testPNG(t), "b.png": testPNG(t)})

	rec := env.do(t, http.MethodPost, "/v1/exports/async", `{"item_ids":["item-2","item-1"],"webhook_url":"ftp://nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/exports/async", `{"item_ids":["item-2","item-1"],"webhook_url":"https://hooks.example/x"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "exp-1", created["export_id"])
	assert.Equal(t, domain.ExportStatusQueued, created["status"])
	assert.Equal(t, "/v1/exports/exp-1", created["status_url"])

	require.Len(t, env.queue.payloads, 1)
	assert.Equal(t, "https://hooks.example/x", env.queue.payloads[0].WebhookURL)

	job, ok, err := env.exports.Get(context.Background(), "exp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"item-2", "item-1"}, job.ItemIDs)
	assert.Equal(t, domain.ExportStatusQueued, job.Status)

	_, err = env.exports.Finish(context.Background(), "exp-1", "exports/exp-1/converted_images_2025-05-06.zip", nil)
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/v1/exports/exp-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got exportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.ExportStatusSucceeded, got.Status)
	assert.Equal(t, "https://minio.example/exports/exp-1/converted_images_2025-05-06.zip?sig=1", got.DownloadURL)

	rec = env.do(t, http.MethodGet, "/v1/exports/other", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAsyncExportFinishedBeforeEnqueueReturns(t *testing.T) {
	env := newTestEnv(t, true)
	env.queue.onEnqueue = func(payload queue.ExportBundlePayload) {
		job, ok, err := env.exports.Get(context.Background(), payload.ExportID)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, domain.ExportStatusQueued, job.Status)

		_, err = env.exports.Finish(context.Background(), payload.ExportID, "exports/exp-1/converted_images_2025-05-06.zip", nil)
		assert.NoError(t, err)
	}
	env.upload(t, map[string][]byte{"a.png": testPNG(t)})

	rec := env.do(t, http.MethodPost, "/v1/exports/async", `{"item_ids":["item-1"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/exports/exp-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got exportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.ExportStatusSucceeded, got.Status)
	assert.Equal(t, "https://minio.example/exports/exp-1/converted_images_2025-05-06.zip?sig=1", got.DownloadURL)
}

func TestAsyncExportEnqueueFailure(t *testing.T) {
	env := newTestEnv(t, true)
	env.queue.err = errors.New("redis down")
	env.upload(t, map[string][]byte{"a.png": testPNG(t)})

	rec := env.do(t, http.MethodPost, "/v1/exports/async", `{"item_ids":["item-1"]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	job, ok, err := env.exports.Get(context.Background(), "exp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ExportStatusFailed, job.Status)
}

func TestVersionsRoutes(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/v1/versions/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var landing versions.Landing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &landing))
	assert.Equal(t, "v3.0.0", landing.Desktop.Text)
	assert.True(t, landing.Web.Fallback)

	rec = env.do(t, http.MethodGet, "/v1/versions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available":true`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(t, http.MethodGet, "/healthz", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `imagetea_api_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/healthz":              "/healthz",
		"/metrics":              "/metrics",
		"/v1/session":           "/v1/session",
		"/v1/items":             "/v1/items",
		"/v1/items/abc":         "/v1/items/{id}",
		"/v1/items/abc/preview": "/v1/items/{id}/preview",
		"/v1/items/abc/convert": "/v1/items/{id}/convert",
		"/v1/items/abc/other":   "unmatched",
		"/v1/exports":           "/v1/exports",
		"/v1/exports/async":     "/v1/exports/async",
		"/v1/exports/0192f0c4":  "/v1/exports/{id}",
		"/v1/versions":          "/v1/versions",
		"/v1/versions/latest":   "/v1/versions/latest",
		"/v1/settings":          "/v1/settings",
		"/v1/selection":         "/v1/selection",
		"/v1/view":              "/v1/view",
		"/favicon.ico":          "unmatched",
		"/v2/items":             "unmatched",
	}
	for path, want := range cases {
		assert.Equal(t, want, routeLabel(path), path)
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("x: %w", converter.ErrItemNotFound)))
	assert.Equal(t, http.StatusBadRequest, statusFor(converter.ErrEmptySelection))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
