// Package artifacts stores run documents on the local filesystem.
package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"arvis/internal/errors"
)

// FileStore writes artifacts under one directory
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir; the directory is created on first write
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// SaveArtifact writes data to dir/key, replacing any earlier file
func (s *FileStore) SaveArtifact(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean(key)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", errors.InvalidInput("artifact key must stay inside the output directory: " + key)
	}
	path := filepath.Join(s.dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.IOError("create "+filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.IOError("write "+path, err)
	}
	return path, nil
}
