package store

import (
	"bytes"
	"io"
	"sync"
)

// MemoryStore keeps its content in memory
type MemoryStore struct {
	mu      sync.RWMutex
	content []byte
	present bool
}

// NewMemoryStore returns an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWith returns a memory store holding a copy of content
func NewMemoryStoreWith(content []byte) *MemoryStore {
	s := &MemoryStore{}
	s.SetContent(content)
	return s
}

// Open returns a reader over a snapshot of the content
func (s *MemoryStore) Open() (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.present {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(s.content)), nil
}

// Create returns a writer that replaces the content on Close
func (s *MemoryStore) Create() (io.WriteCloser, error) {
	return &bufferedWriter{commit: func(b []byte) error {
		s.SetContent(b)
		return nil
	}}, nil
}

// Exists reports whether content has been written
func (s *MemoryStore) Exists() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.present, nil
}

// Delete removes the content
func (s *MemoryStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return ErrNotFound
	}
	s.content = nil
	s.present = false
	return nil
}

// Content returns a copy of the current content, or nil if empty
func (s *MemoryStore) Content() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.present {
		return nil
	}
	return append([]byte(nil), s.content...)
}

// SetContent replaces the content with a copy of b
func (s *MemoryStore) SetContent(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = append([]byte{}, b...)
	s.present = true
}

// bufferedWriter collects writes and hands them to commit on Close
type bufferedWriter struct {
	buf    bytes.Buffer
	commit func([]byte) error
	closed bool
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *bufferedWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.commit(w.buf.Bytes())
}

// Abort closes the writer without committing
func (w *bufferedWriter) Abort() error {
	w.closed = true
	return nil
}
