package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/imagetea/internal/domain"
	"github.com/lib/pq"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS items (
	seq BIGSERIAL,
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	original_name TEXT NOT NULL,
	size BIGINT NOT NULL,
	mime_type TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	payload BYTEA NOT NULL,
	thumbnail BYTEA,
	uploaded_at TIMESTAMPTZ NOT NULL,
	is_pdf BOOLEAN NOT NULL DEFAULT FALSE,
	page_number INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS exports (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	item_ids TEXT[] NOT NULL,
	settings JSONB NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}
	return db, nil
}

// PostgresItemStore shares items between the api and worker processes.
type PostgresItemStore struct {
	sqlItemStore
}

func NewPostgresItemStore(ctx context.Context, dsn string) (*PostgresItemStore, error) {
	db, err := openPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresItemStore{sqlItemStore{db: db, numbered: true}}, nil
}

type PostgresExportStore struct {
	db *sql.DB
}

func NewPostgresExportStore(ctx context.Context, dsn string) (*PostgresExportStore, error) {
	db, err := openPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresExportStore{db: db}, nil
}

func (s *PostgresExportStore) Close() error {
	return s.db.Close()
}

func (s *PostgresExportStore) Create(ctx context.Context, job domain.ExportJob) error {
	settingsJSON, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("marshal export settings: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO exports (id, status, item_ids, settings, webhook_url, object_key, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID,
		job.Status,
		pq.Array(job.ItemIDs),
		settingsJSON,
		job.WebhookURL,
		job.ObjectKey,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert export: %w", err)
	}
	return nil
}

func (s *PostgresExportStore) Get(ctx context.Context, id string) (domain.ExportJob, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, item_ids, settings, webhook_url, object_key, error, created_at, updated_at
		 FROM exports
		 WHERE id = $1`,
		id,
	)

	var (
		job          domain.ExportJob
		settingsJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		pq.Array(&job.ItemIDs),
		&settingsJSON,
		&job.WebhookURL,
		&job.ObjectKey,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ExportJob{}, false, nil
		}
		return domain.ExportJob{}, false, fmt.Errorf("query export: %w", err)
	}

	if err := json.Unmarshal(settingsJSON, &job.Settings); err != nil {
		return domain.ExportJob{}, false, fmt.Errorf("unmarshal export settings: %w", err)
	}
	return job, true, nil
}

func (s *PostgresExportStore) UpdateStatus(ctx context.Context, id, status string) (domain.ExportJob, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE exports
		 SET status = $1, updated_at = $2
		 WHERE id = $3 AND status NOT IN ('succeeded', 'failed')`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("update export status: %w", err)
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresExportStore) Finish(ctx context.Context, id, objectKey string, runErr error) (domain.ExportJob, error) {
	status, message := finishedStatus(runErr)
	if runErr != nil {
		objectKey = ""
	}

	_, err := s.db.ExecContext(
		ctx,
		`UPDATE exports
		 SET status = $1, object_key = $2, error = $3, updated_at = $4
		 WHERE id = $5`,
		status,
		objectKey,
		message,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("finish export: %w", err)
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresExportStore) mustGet(ctx context.Context, id string) (domain.ExportJob, error) {
	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.ExportJob{}, err
	}
	if !ok {
		return domain.ExportJob{}, ErrExportNotFound
	}
	return job, nil
}
