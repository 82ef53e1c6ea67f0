package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileStateRepository keeps each document in <dir>/<doc>.json.
type FileStateRepository struct {
	dir    string
	logger *zap.Logger
}

func NewFileStateRepository(dir string, logger *zap.Logger) *FileStateRepository {
	if dir == "" {
		dir = "."
	}
	return &FileStateRepository{
		dir:    dir,
		logger: logger,
	}
}

// Path returns the file backing doc.
func (r *FileStateRepository) Path(doc string) string {
	return filepath.Join(r.dir, doc+".json")
}

func (r *FileStateRepository) Load(ctx context.Context, doc string) ([]byte, error) {
	data, err := os.ReadFile(r.Path(doc))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", doc, err)
	}
	return data, nil
}

// Save writes a temp file next to the target and renames it over, so a reader
// sees either the old or the new document.
func (r *FileStateRepository) Save(ctx context.Context, doc string, data []byte) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	path := r.Path(doc)
	tmp, err := os.CreateTemp(r.dir, "."+doc+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", doc, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", doc, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", doc, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", doc, err)
	}

	r.logger.Debug("State document saved",
		zap.String("doc", doc),
		zap.String("path", path),
		zap.Int("bytes", len(data)),
	)
	return nil
}
