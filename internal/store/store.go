// Package store provides the byte sources, sinks and single-slot stores that
// license keys are read from and written to.
//
// A Store holds exactly one license key. Implementations must be pointer
// types: license managers compare stores by identity to key their result
// caches and to serialize writes.
package store

import (
	"errors"
	"fmt"
	"io"
	"reflect"
)

// ErrNotFound is returned when reading from an empty store
var ErrNotFound = errors.New("store is empty")

// Source opens a fresh reader on every call
type Source interface {
	Open() (io.ReadCloser, error)
}

// Sink opens a fresh writer on every call. Data becomes visible when the
// writer is closed.
type Sink interface {
	Create() (io.WriteCloser, error)
}

// Store is a Source and Sink for exactly one license key
type Store interface {
	Source
	Sink
	Exists() (bool, error)
	Delete() error
}

// SourceFunc adapts a function to the Source interface
type SourceFunc func() (io.ReadCloser, error)

// Open calls f
func (f SourceFunc) Open() (io.ReadCloser, error) { return f() }

// SinkFunc adapts a function to the Sink interface
type SinkFunc func() (io.WriteCloser, error)

// Create calls f
func (f SinkFunc) Create() (io.WriteCloser, error) { return f() }

// Copy copies all bytes from src to dst. Both ends are closed exactly once;
// the first error wins.
func Copy(src Source, dst Sink) (err error) {
	in, err := src.Open()
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if cerr := in.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close source: %w", cerr)
		}
	}()

	out, err := dst.Create()
	if err != nil {
		return fmt.Errorf("create sink: %w", err)
	}
	if _, err = io.Copy(out, in); err != nil {
		Abort(out)
		return fmt.Errorf("copy: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}

// Aborter is implemented by writers that can discard their data instead of
// committing it
type Aborter interface {
	Abort() error
}

// Abort discards w if it supports it and closes it otherwise
func Abort(w io.WriteCloser) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort()
	}
	return w.Close()
}

// ReadAll reads the complete content of src
func ReadAll(src Source) ([]byte, error) {
	in, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return io.ReadAll(in)
}

// Same reports whether a and b denote the same source. Sources whose
// dynamic type is not comparable are never the same.
func Same(a, b Source) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
