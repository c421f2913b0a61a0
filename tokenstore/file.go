package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const sessionFileName = "session.json"

var _ Store = (*FileStore)(nil)

// FileStore keeps the session in a single JSON document inside dir. Every
// write replaces the document atomically, so a crash never leaves a torn file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates dir (0700) if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("[NewFileStore] create %s: %w", dir, err)
	}
	return &FileStore{path: filepath.Join(dir, sessionFileName)}, nil
}

// Path returns the location of the session document.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(_ context.Context, key Key) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileStore) Set(_ context.Context, key Key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	values[key] = value
	return f.write(values)
}

func (f *FileStore) Delete(_ context.Context, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	if len(values) == 0 {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("[FileStore] remove %s: %w", f.path, err)
		}
		return nil
	}
	return f.write(values)
}

func (f *FileStore) read() (map[Key]string, error) {
	values := make(map[Key]string)
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[FileStore] read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("[FileStore] decode %s: %w", f.path, err)
	}
	return values, nil
}

func (f *FileStore) write(values map[Key]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("[FileStore] encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), sessionFileName+".*")
	if err != nil {
		return fmt.Errorf("[FileStore] create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("[FileStore] chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("[FileStore] write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[FileStore] close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("[FileStore] replace %s: %w", f.path, err)
	}
	return nil
}
