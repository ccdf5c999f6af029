// Package store persists converter items and async export jobs.
package store

import (
	"context"
	"errors"

	"github.com/dunamismax/imagetea/internal/domain"
)

var ErrExportNotFound = errors.New("export not found")

// ItemStore is the durable copy of a session's items. The session's in-memory list stays
// authoritative; the store only has to survive restarts.
type ItemStore interface {
	Put(ctx context.Context, item domain.Item) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	// GetAll returns items in upload order.
	GetAll(ctx context.Context) ([]domain.Item, error)
}

type ExportStore interface {
	Create(ctx context.Context, job domain.ExportJob) error
	Get(ctx context.Context, id string) (domain.ExportJob, bool, error)
	// UpdateStatus moves a job that has not finished yet. A finished job is returned
	// unchanged.
	UpdateStatus(ctx context.Context, id, status string) (domain.ExportJob, error)
	// Finish records the terminal state: succeeded with objectKey when runErr is nil,
	// failed with runErr's message otherwise.
	Finish(ctx context.Context, id, objectKey string, runErr error) (domain.ExportJob, error)
}

// ItemsByID picks ids out of items, preserving the order of ids. Unknown ids are
// returned separately.
func ItemsByID(items []domain.Item, ids []string) ([]domain.Item, []string) {
	index := make(map[string]domain.Item, len(items))
	for _, item := range items {
		index[item.ID] = item
	}

	picked := make([]domain.Item, 0, len(ids))
	var missing []string
	for _, id := range ids {
		item, ok := index[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		picked = append(picked, item)
	}
	return picked, missing
}

func finishedStatus(runErr error) (string, string) {
	if runErr != nil {
		return domain.ExportStatusFailed, runErr.Error()
	}
	return domain.ExportStatusSucceeded, ""
}
