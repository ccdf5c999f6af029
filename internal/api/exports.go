package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dunamismax/imagetea/internal/converter"
	"github.com/dunamismax/imagetea/internal/domain"
	"github.com/dunamismax/imagetea/internal/queue"
	"go.uber.org/zap"
)

const (
	HeaderPacked  = "X-Imagetea-Packed"
	HeaderSkipped = "X-Imagetea-Skipped"
)

type exportRequest struct {
	ItemIDs    []string `json:"item_ids,omitempty"`
	WebhookURL string   `json:"webhook_url,omitempty"`
}

// handleExport packs the named items, or the current selection, and streams the zip.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WebhookURL != "" {
		writeError(w, http.StatusBadRequest, "webhook_url is only accepted by /v1/exports/async")
		return
	}

	u, err := s.session.Dispatch(r.Context(), converter.Action{Kind: converter.ActionExport, ItemIDs: req.ItemIDs})
	if err != nil {
		s.writeDispatchError(w, u, err)
		return
	}
	s.metrics.exportsTotal.WithLabelValues("sync").Inc()

	if u.Report != nil {
		w.Header().Set(HeaderPacked, strconv.Itoa(u.Report.Packed))
		w.Header().Set(HeaderSkipped, strconv.Itoa(len(u.Report.Skipped)))
	}
	writeDownload(w, u.Download)
}

// handleCreateAsyncExport records an export job for the worker and enqueues it.
func (s *Server) handleCreateAsyncExport(w http.ResponseWriter, r *http.Request) {
	if s.exports == nil || s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "async exports are not enabled")
		return
	}

	var req exportRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateWebhookURL(req.WebhookURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := s.session.Dispatch(r.Context(), converter.Action{Kind: converter.ActionPlanExport, ItemIDs: req.ItemIDs})
	if err != nil {
		s.writeDispatchError(w, u, err)
		return
	}

	create := domain.CreateExportRequest{ItemIDs: u.Plan.ItemIDs, Settings: &u.Plan.Settings, WebhookURL: req.WebhookURL}
	if err := create.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.now().UTC()
	job := domain.ExportJob{
		ID:         s.newID(),
		Status:     domain.ExportStatusCreated,
		ItemIDs:    create.ItemIDs,
		Settings:   *create.Settings,
		WebhookURL: create.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.exports.Create(r.Context(), job); err != nil {
		s.logger.Error("create export failed", zap.String("export_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create export")
		return
	}

	// queued is written before the task exists so a fast worker's final status wins.
	if _, err := s.exports.UpdateStatus(r.Context(), job.ID, domain.ExportStatusQueued); err != nil {
		s.logger.Error("queue export failed", zap.String("export_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create export")
		return
	}

	taskInfo, err := s.queue.EnqueueExportBundle(r.Context(), queue.ExportBundlePayload{
		ExportID:    job.ID,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Error("enqueue export failed", zap.String("export_id", job.ID), zap.Error(err))
		if _, ferr := s.exports.Finish(r.Context(), job.ID, "", fmt.Errorf("enqueue: %w", err)); ferr != nil {
			s.logger.Warn("mark export failed", zap.String("export_id", job.ID), zap.Error(ferr))
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue export")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()
	s.metrics.exportsTotal.WithLabelValues("async").Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"export_id":   job.ID,
		"status":      domain.ExportStatusQueued,
		"items":       len(job.ItemIDs),
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"enqueued_at": taskInfo.NextProcessAt,
		"status_url":  "/v1/exports/" + job.ID,
	})
}

type exportResponse struct {
	domain.ExportJob
	DownloadURL string `json:"download_url,omitempty"`
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if s.exports == nil {
		writeError(w, http.StatusServiceUnavailable, "async exports are not enabled")
		return
	}

	exportID := r.PathValue("id")
	job, ok, err := s.exports.Get(r.Context(), exportID)
	if err != nil {
		s.logger.Error("load export failed", zap.String("export_id", exportID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load export")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}

	resp := exportResponse{ExportJob: job}
	if job.Status == domain.ExportStatusSucceeded && job.ObjectKey != "" && s.links != nil {
		link, err := s.links.PresignedGetURL(r.Context(), job.ObjectKey, s.linkTTL)
		if err != nil {
			s.logger.Warn("presign export failed", zap.String("export_id", job.ID), zap.Error(err))
		} else {
			resp.DownloadURL = link
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("webhook_url must be an absolute http or https URL")
	}
	return nil
}
