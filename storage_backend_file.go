package cytoqc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// FileBackend stores report blobs under a base directory.
type FileBackend struct {
	baseDir string
}

// NewFileBackend creates baseDir if needed and returns a backend rooted there.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	return &FileBackend{baseDir: filepath.Clean(absDir)}, nil
}

// safePath resolves key inside the base directory and rejects keys that
// escape it.
func (f *FileBackend) safePath(key string) (string, error) {
	resolved := filepath.Clean(filepath.Join(f.baseDir, filepath.Clean(key)))
	if resolved != f.baseDir && !strings.HasPrefix(resolved, f.baseDir+string(os.PathSeparator)) {
		return "", errors.New("invalid key: path traversal attempt detected")
	}
	return resolved, nil
}

func (f *FileBackend) Read(_ context.Context, key string) ([]byte, error) {
	path, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Write stores data through a temporary file and a rename so readers never
// observe a partial blob.
func (f *FileBackend) Write(_ context.Context, key string, data []byte) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *FileBackend) Delete(_ context.Context, key string) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List walks the directory holding prefix and returns the slash-separated
// keys starting with it.
func (f *FileBackend) List(_ context.Context, prefix string) ([]string, error) {
	dir := f.baseDir
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		var err error
		if dir, err = f.safePath(prefix[:i]); err != nil {
			return nil, err
		}
	}

	var keys []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(f.baseDir, path)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	slices.Sort(keys)
	return keys, err
}

func (f *FileBackend) Exists(_ context.Context, key string) (bool, error) {
	path, err := f.safePath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (f *FileBackend) Close() error {
	return nil
}
