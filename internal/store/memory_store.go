package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/imagetea/internal/domain"
)

type MemoryItemStore struct {
	mu    sync.RWMutex
	order []string
	items map[string]domain.Item
}

func NewMemoryItemStore() *MemoryItemStore {
	return &MemoryItemStore{
		items: make(map[string]domain.Item),
	}
}

func (s *MemoryItemStore) Put(_ context.Context, item domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; !ok {
		s.order = append(s.order, item.ID)
	}
	s.items[item.ID] = item
	return nil
}

func (s *MemoryItemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return nil
	}
	delete(s.items, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryItemStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.items = make(map[string]domain.Item)
	return nil
}

func (s *MemoryItemStore) GetAll(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out, nil
}

type MemoryExportStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.ExportJob
}

func NewMemoryExportStore() *MemoryExportStore {
	return &MemoryExportStore{
		jobs: make(map[string]domain.ExportJob),
	}
}

func (s *MemoryExportStore) Create(_ context.Context, job domain.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryExportStore) Get(_ context.Context, id string) (domain.ExportJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryExportStore) UpdateStatus(_ context.Context, id, status string) (domain.ExportJob, error) {
	return s.update(id, func(job *domain.ExportJob) bool {
		if job.Finished() {
			return false
		}
		job.Status = status
		return true
	})
}

func (s *MemoryExportStore) Finish(_ context.Context, id, objectKey string, runErr error) (domain.ExportJob, error) {
	status, message := finishedStatus(runErr)
	return s.update(id, func(job *domain.ExportJob) bool {
		job.Status = status
		job.Error = message
		if runErr == nil {
			job.ObjectKey = objectKey
		}
		return true
	})
}

func (s *MemoryExportStore) update(id string, apply func(*domain.ExportJob) bool) (domain.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ExportJob{}, ErrExportNotFound
	}

	if !apply(&job) {
		return job, nil
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}
