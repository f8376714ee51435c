package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// FileStore is a MemoryStore persisted to a TOML file after every write.
type FileStore struct {
	*MemoryStore
	path string
}

// OpenFileStore loads path if it exists and persists every later write to it.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{MemoryStore: NewMemoryStore(), path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read settings file %s: %w", path, err)
	default:
		values := make(map[string]any)
		if err := toml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parse settings file %s: %w", path, err)
		}
		fs.values = values
	}

	fs.persist = fs.write
	return fs, nil
}

func (fs *FileStore) Path() string {
	return fs.path
}

func (fs *FileStore) write(values map[string]any) error {
	data, err := toml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return os.Rename(tmp, fs.path)
}
