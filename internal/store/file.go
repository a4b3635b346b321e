package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
)

// File keeps the snapshot in a single JSON document on local disk.
type File struct {
	path string
}

// NewFile returns a store backed by the document at path. The file is only
// created on the first Save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the location of the snapshot document.
func (f *File) Path() string {
	return f.path
}

func (f *File) Load(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrCorruptSnapshot, f.path, err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrCorruptSnapshot, f.path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	return &s, nil
}

// Save writes to a temporary file in the same directory and renames it over
// the previous snapshot, so readers never observe a partial document.
func (f *File) Save(ctx context.Context, s *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	s.SchemaVersion = SchemaVersion
	s.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := renameio.WriteFile(f.path, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Reset(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing snapshot %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Close(ctx context.Context) {}
