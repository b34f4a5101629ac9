package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
)

const fileVersion = 1

type fileDoc struct {
	Version int                      `json:"version"`
	Models  []model.CorrelationModel `json:"models"`
}

// FileStore keeps every model in one JSON document, replaced atomically on
// each save.
type FileStore struct {
	path string
	opts options

	mu     sync.Mutex
	models map[model.PairKey]model.CorrelationModel
	loaded bool
}

// NewFileStore returns a store at path. The file is created on first save.
func NewFileStore(path string, opts ...Option) *FileStore {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}
	return &FileStore{path: path, opts: o, models: make(map[model.PairKey]model.CorrelationModel)}
}

// Load reads the document. A missing file yields no models.
func (s *FileStore) Load(ctx context.Context) ([]model.CorrelationModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.read(ctx); err != nil {
		return nil, err
	}
	return s.sorted(), nil
}

func (s *FileStore) read(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, s.path, err)
	}
	if doc.Version != fileVersion {
		return fmt.Errorf("%w: %s: version %d", ErrCorrupt, s.path, doc.Version)
	}
	for _, m := range doc.Models {
		s.models[m.Key] = m
	}
	s.loaded = true
	s.opts.logger.Debug(ctx, "models loaded", logger.String("path", s.path), logger.Int("count", len(doc.Models)))
	return nil
}

// Save merges models into the document and rewrites it.
func (s *FileStore) Save(ctx context.Context, models []model.CorrelationModel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.read(ctx); err != nil {
		return err
	}
	for _, m := range models {
		s.models[m.Key] = m
	}

	raw, err := json.MarshalIndent(fileDoc{Version: fileVersion, Models: s.sorted()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode models: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), s.opts.perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) sorted() []model.CorrelationModel {
	out := make([]model.CorrelationModel, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}
