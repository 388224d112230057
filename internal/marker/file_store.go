package marker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileStore keeps the marker as one timestamp in a flat text file
type FileStore struct {
	Path     string
	Location *time.Location
}

// NewFileStore creates a file backed marker store
func NewFileStore(path string, loc *time.Location) *FileStore {
	return &FileStore{Path: path, Location: loc}
}

// Load implements Store
func (s *FileStore) Load(ctx context.Context) (time.Time, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, s.Path)
		}
		return time.Time{}, fmt.Errorf("failed to read marker file %s: %w", s.Path, err)
	}
	if len(data) == 0 {
		return time.Time{}, fmt.Errorf("%w: %s is empty", ErrNotFound, s.Path)
	}

	t, err := Parse(string(data), s.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("marker file %s: %w", s.Path, err)
	}
	return t, nil
}

// Save implements Store. The file is replaced atomically.
func (s *FileStore) Save(ctx context.Context, t time.Time) error {
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary marker file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.WriteString(Format(t) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write marker file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync marker file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close marker file: %w", err)
	}
	if err := os.Chmod(tmpName, s.mode()); err != nil {
		return fmt.Errorf("failed to set marker file mode: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("failed to replace marker file %s: %w", s.Path, err)
	}
	return nil
}

// mode keeps the permissions of an existing marker file
func (s *FileStore) mode() os.FileMode {
	if info, err := os.Stat(s.Path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}
