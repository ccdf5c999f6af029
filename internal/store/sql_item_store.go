package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/dunamismax/imagetea/internal/domain"
)

// sqlItemStore holds the item queries shared by the sqlite and postgres stores. Queries
// are written with ? placeholders and rebound for postgres.
type sqlItemStore struct {
	db       *sql.DB
	numbered bool
}

const itemColumns = `id, name, original_name, size, mime_type, width, height, payload, thumbnail, uploaded_at, is_pdf, page_number`

func (s *sqlItemStore) Put(ctx context.Context, item domain.Item) error {
	_, err := s.db.ExecContext(
		ctx,
		s.rebind(`INSERT INTO items (`+itemColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			original_name = excluded.original_name,
			size = excluded.size,
			mime_type = excluded.mime_type,
			width = excluded.width,
			height = excluded.height,
			payload = excluded.payload,
			thumbnail = excluded.thumbnail,
			is_pdf = excluded.is_pdf,
			page_number = excluded.page_number`),
		item.ID,
		item.Name,
		item.OriginalName,
		item.Size,
		item.MimeType,
		item.Width,
		item.Height,
		item.Payload,
		item.Thumbnail,
		item.UploadedAt.UTC(),
		item.IsPDF,
		item.PageNumber,
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

func (s *sqlItemStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM items WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func (s *sqlItemStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}
	return nil
}

func (s *sqlItemStore) GetAll(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY uploaded_at, seq`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.OriginalName,
			&item.Size,
			&item.MimeType,
			&item.Width,
			&item.Height,
			&item.Payload,
			&item.Thumbnail,
			&item.UploadedAt,
			&item.IsPDF,
			&item.PageNumber,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *sqlItemStore) Close() error {
	return s.db.Close()
}

func (s *sqlItemStore) rebind(query string) string {
	if !s.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
