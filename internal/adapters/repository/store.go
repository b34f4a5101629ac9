// Package repository persists learned correlation models between runs.
package repository

import (
	"context"
	"fmt"

	"github.com/okian/shotlink/internal/domain/model"
)

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Store loads and saves correlation models. Save upserts by pair key and
// leaves models it is not given untouched.
type Store interface {
	Load(ctx context.Context) ([]model.CorrelationModel, error)
	Save(ctx context.Context, models []model.CorrelationModel) error
	Close() error
}

// Open returns the store for backend at path.
func Open(ctx context.Context, backend, path string, opts ...Option) (Store, error) {
	switch backend {
	case BackendFile:
		return NewFileStore(path, opts...), nil
	case BackendSQLite:
		return NewSQLiteStore(ctx, path, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
