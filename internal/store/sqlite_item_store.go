package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteItemSchemaSQL = `
CREATE TABLE IF NOT EXISTS items (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	original_name TEXT NOT NULL,
	size INTEGER NOT NULL,
	mime_type TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	payload BLOB NOT NULL,
	thumbnail BLOB,
	uploaded_at TIMESTAMP NOT NULL,
	is_pdf BOOLEAN NOT NULL DEFAULT 0,
	page_number INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteItemStore is the default embedded item store.
type SQLiteItemStore struct {
	sqlItemStore
}

func NewSQLiteItemStore(ctx context.Context, path string) (*SQLiteItemStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	store := &SQLiteItemStore{sqlItemStore{db: db}}
	if _, err := db.ExecContext(ctx, sqliteItemSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure items schema: %w", err)
	}
	return store, nil
}
