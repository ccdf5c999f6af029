package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const TypeExportBundle = "export:bundle"

// ExportBundlePayload names a persisted export job; the worker loads items and
// settings from the stores.
type ExportBundlePayload struct {
	ExportID    string    `json:"export_id"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewExportBundleTask(payload ExportBundlePayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.ExportID) == "" {
		return nil, errors.New("export id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal export payload: %w", err)
	}
	return asynq.NewTask(TypeExportBundle, body), nil
}

func ParseExportBundlePayload(task *asynq.Task) (ExportBundlePayload, error) {
	var payload ExportBundlePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ExportBundlePayload{}, fmt.Errorf("unmarshal export payload: %w", err)
	}
	if strings.TrimSpace(payload.ExportID) == "" {
		return ExportBundlePayload{}, errors.New("export payload is missing export_id")
	}
	return payload, nil
}
