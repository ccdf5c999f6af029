package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ExportStatusCreated    = "created"
	ExportStatusQueued     = "queued"
	ExportStatusProcessing = "processing"
	ExportStatusSucceeded  = "succeeded"
	ExportStatusFailed     = "failed"
)

type CreateExportRequest struct {
	ItemIDs    []string  `json:"item_ids"`
	Settings   *Settings `json:"settings,omitempty"`
	WebhookURL string    `json:"webhook_url,omitempty"`
}

// ExportJob tracks one asynchronous bulk export.
type ExportJob struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	ItemIDs    []string  `json:"item_ids"`
	Settings   Settings  `json:"settings"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	ObjectKey  string    `json:"object_key,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ExportReport summarizes a packed bundle.
type ExportReport struct {
	FileName        string   `json:"file_name"`
	Packed          int      `json:"packed"`
	Skipped         []string `json:"skipped,omitempty"`
	BytesIn         int64    `json:"bytes_in"`
	BytesOut        int64    `json:"bytes_out"`
	PixelsProcessed int64    `json:"pixels_processed"`
}

// Finished reports whether the job reached succeeded or failed.
func (j ExportJob) Finished() bool {
	return j.Status == ExportStatusSucceeded || j.Status == ExportStatusFailed
}

func (r CreateExportRequest) Validate() error {
	if len(r.ItemIDs) == 0 {
		return errors.New("item_ids must contain at least one id")
	}
	for i, id := range r.ItemIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("item_ids[%d] is required", i)
		}
	}
	if r.Settings != nil {
		if err := r.Settings.Validate(); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
	}
	return nil
}
