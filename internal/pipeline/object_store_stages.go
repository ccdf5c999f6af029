package pipeline

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/dunamismax/imagetea/internal/storage"
)

type ObjectStoreEmitter struct {
	Storage      *storage.Client
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, exportID, fileName string, data []byte) (Stored, error) {
	if e.Storage == nil {
		return Stored{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(exportID) == "" {
		return Stored{}, errors.New("export id is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(exportID),
		sanitizeFileName(fileName),
	)

	if err := e.Storage.PutBundle(ctx, objectKey, exportID, data); err != nil {
		return Stored{}, err
	}

	return Stored{Path: objectKey, Bytes: len(data)}, nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "exports"
	}
	return prefix
}
