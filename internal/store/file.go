package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps its content in a single file. Writes go to a temporary
// file in the same directory which replaces the target on Close.
type FileStore struct {
	path string
	perm fs.FileMode
}

// NewFileStore returns a store for path, written with 0600 permissions
func NewFileStore(path string) *FileStore {
	return &FileStore{path: filepath.Clean(path), perm: 0600}
}

// Path returns the file path
func (s *FileStore) Path() string {
	return s.path
}

// Open opens the file for reading
func (s *FileStore) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", s.path, ErrNotFound)
	}
	return f, err
}

// Create opens a temporary file that is renamed onto the target on Close
func (s *FileStore) Create() (io.WriteCloser, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return nil, err
	}
	return &atomicFile{File: tmp, target: s.path, perm: s.perm}, nil
}

// Exists reports whether the file exists
func (s *FileStore) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Delete removes the file
func (s *FileStore) Delete() error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", s.path, ErrNotFound)
	}
	return err
}

type atomicFile struct {
	*os.File
	target string
	perm   fs.FileMode
	closed bool
}

func (f *atomicFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	name := f.File.Name()
	if err := f.File.Sync(); err != nil {
		f.File.Close()
		os.Remove(name)
		return err
	}
	if err := f.File.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, f.perm); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, f.target); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// Abort removes the temporary file and leaves the target untouched
func (f *atomicFile) Abort() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.File.Close()
	return os.Remove(f.File.Name())
}
