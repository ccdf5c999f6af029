package store

import (
	"context"
	"fmt"
	"io"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenItemStore builds the item store named by backend: sqlite, postgres or memory.
// The returned closer releases the underlying database.
func OpenItemStore(ctx context.Context, backend, sqlitePath, postgresDSN string) (ItemStore, io.Closer, error) {
	switch backend {
	case "", "sqlite":
		s, err := NewSQLiteItemStore(ctx, sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "postgres":
		s, err := NewPostgresItemStore(ctx, postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "memory":
		return NewMemoryItemStore(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown item store backend %q", backend)
	}
}
