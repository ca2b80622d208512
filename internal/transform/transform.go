// Package transform provides the invertible stream transformations applied to
// license keys: compression, then encryption on output, and the inverse on
// input.
package transform

import (
	"errors"
	"io"
	"sync"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
)

// Transformation is an invertible stream transformation. Apply wraps a sink
// so that written bytes are transformed before they reach it; Unapply wraps a
// source so that read bytes are restored.
type Transformation interface {
	Apply(sink store.Sink) store.Sink
	Unapply(source store.Source) store.Source
}

// Identity leaves streams unchanged
type Identity struct{}

// Apply returns sink
func (Identity) Apply(sink store.Sink) store.Sink { return sink }

// Unapply returns source
func (Identity) Unapply(source store.Source) store.Source { return source }

type chain []Transformation

// Chain composes transformations. Output passes through them in order, input
// passes through them in reverse order.
func Chain(ts ...Transformation) Transformation {
	return chain(ts)
}

func (c chain) Apply(sink store.Sink) store.Sink {
	for i := len(c) - 1; i >= 0; i-- {
		sink = c[i].Apply(sink)
	}
	return sink
}

func (c chain) Unapply(source store.Source) store.Source {
	for i := len(c) - 1; i >= 0; i-- {
		source = c[i].Unapply(source)
	}
	return source
}

// layeredWriter closes its filter and then the underlying writer, once
type layeredWriter struct {
	io.Writer
	filter io.Closer
	under  io.WriteCloser
	once   sync.Once
	err    error
}

func newLayeredWriter(w io.Writer, filter io.Closer, under io.WriteCloser) *layeredWriter {
	return &layeredWriter{Writer: w, filter: filter, under: under}
}

func (l *layeredWriter) Close() error {
	l.once.Do(func() {
		if l.filter != nil {
			if err := l.filter.Close(); err != nil {
				l.err = errors.Join(err, store.Abort(l.under))
				return
			}
		}
		l.err = l.under.Close()
	})
	return l.err
}

// Abort discards the underlying writer without flushing the filter
func (l *layeredWriter) Abort() error {
	l.once.Do(func() {
		l.err = store.Abort(l.under)
	})
	return l.err
}

// layeredReader closes its filter and then the underlying reader, once
type layeredReader struct {
	io.Reader
	filter io.Closer
	under  io.Closer
	once   sync.Once
	err    error
}

func newLayeredReader(r io.Reader, filter, under io.Closer) *layeredReader {
	return &layeredReader{Reader: r, filter: filter, under: under}
}

func (l *layeredReader) Close() error {
	l.once.Do(func() {
		var ferr error
		if l.filter != nil {
			ferr = l.filter.Close()
		}
		l.err = errors.Join(ferr, l.under.Close())
	})
	return l.err
}
