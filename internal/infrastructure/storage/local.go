package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/apphub/backend/internal/core/ports"
)

// LocalStorage keeps artifacts on the local filesystem. Relative
// directories resolve against baseDir.
type LocalStorage struct {
	baseDir string
}

var _ ports.ResultStorage = (*LocalStorage)(nil)

func NewLocalStorage(baseDir string) *LocalStorage {
	if baseDir == "" {
		baseDir = "."
	}
	return &LocalStorage{baseDir: baseDir}
}

func (s *LocalStorage) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(s.baseDir, dir)
}

func (s *LocalStorage) Stat(_ context.Context, dir, name string) (int64, bool, error) {
	info, err := os.Stat(filepath.Join(s.resolve(dir), name))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return info.Size(), true, nil
}

// Write stores r under dir/name, replacing any previous content. Data is
// written to a temp file first so readers never observe a partial file.
func (s *LocalStorage) Write(ctx context.Context, dir, name string, r io.Reader) error {
	target := s.resolve(dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", target, err)
	}
	tmp, err := os.CreateTemp(target, ".part-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(target, name))
}

func (s *LocalStorage) List(_ context.Context, dir string) ([]ports.StoredFile, error) {
	entries, err := os.ReadDir(s.resolve(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	files := make([]ports.StoredFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, ports.StoredFile{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return files, nil
}

func (s *LocalStorage) Open(_ context.Context, dir, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.resolve(dir), name))
}

func (s *LocalStorage) MkdirAll(_ context.Context, dir string) error {
	return os.MkdirAll(s.resolve(dir), 0o755)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
