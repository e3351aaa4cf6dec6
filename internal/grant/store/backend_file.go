package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"rolegate/pkg/platform/sentinel"
)

// FileBackend stores the document as a single file. Writes go to a temp
// file in the same directory, are fsynced, then renamed over the target so a
// crash leaves either the old or the new document.
type FileBackend struct {
	path string
	perm os.FileMode
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path, perm: 0o644}
}

func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("grant document %s: %w", b.path, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read grant document %s: %w", b.path, err)
	}
	return data, nil
}

func (b *FileBackend) Write(_ context.Context, data []byte) error {
	return atomicWriteFile(b.path, data, b.perm)
}

// Quarantine copies data next to the document with a timestamp suffix.
func (b *FileBackend) Quarantine(_ context.Context, data []byte) (string, error) {
	target := fmt.Sprintf("%s.corrupt-%d", b.path, time.Now().Unix())
	if err := atomicWriteFile(target, data, b.perm); err != nil {
		return "", err
	}
	return target, nil
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".rolegate-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := f.Name()
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename into %s: %w", absPath, err)
	}
	committed = true
	return nil
}
