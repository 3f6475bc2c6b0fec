package overview

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// DefaultBackups is the number of earlier overview files kept by Rotate.
const DefaultBackups = 5

// FileStore keeps the overview in a file. Saving is atomic: the document is
// written to a temporary file in the same directory and renamed.
type FileStore struct {
	Path    string
	Backups int
}

// NewFileStore expands a leading tilde in path.
func NewFileStore(path string, backups int) (*FileStore, error) {
	p, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &FileStore{Path: p, Backups: backups}, nil
}

// Load reads the overview. A missing or empty file yields a fresh overview,
// an unreadable one an ErrConfig.
func (f *FileStore) Load(ctx context.Context) (*Overview, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	o, err := Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return o, nil
}

// Save writes o.
func (f *FileStore) Save(ctx context.Context, o *Overview) error {
	b, err := Marshal(o)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".overview-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

// Rotate copies the current file to Path.1, shifting older generations up
// and dropping the one beyond Backups. Without a current file it does
// nothing.
func (f *FileStore) Rotate() error {
	if f.Backups <= 0 {
		return nil
	}
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(f.backup(f.Backups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for i := f.Backups - 1; i >= 1; i-- {
		err := os.Rename(f.backup(i), f.backup(i+1))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return os.WriteFile(f.backup(1), b, 0644)
}

func (f *FileStore) backup(i int) string {
	return fmt.Sprintf("%s.%d", f.Path, i)
}
