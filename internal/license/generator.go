package license

import (
	"context"
	"sync"

	lerrors "github.com/christian-schlichtherle/truelicense-sub000/internal/errors"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/repository"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
)

// Generator holds a validated license and signs it on first use. The
// signed model is reused, so keys saved to several sinks are identical.
// A Generator must not be used by concurrent goroutines.
type Generator struct {
	*engine
	license *License

	once    sync.Once
	model   any
	decoder repository.Decoder
	err     error
}

func (g *Generator) sign() error {
	g.once.Do(func() {
		g.model = g.repository.Model()
		g.decoder, g.err = g.authentication.Sign(g.repository.Controller(g.model, g.codec), g.license)
	})
	return g.err
}

// License returns the signed license with the defaults of initialization
// filled in
func (g *Generator) License() (*License, error) {
	if err := g.sign(); err != nil {
		return nil, lerrors.Wrap(OpGenerate, err)
	}
	l, err := decodeLicense(g.decoder)
	if err != nil {
		return nil, lerrors.Management(OpGenerate, err)
	}
	return l, nil
}

// SaveTo writes the license key to sink. Nothing is committed to sink if
// writing fails.
func (g *Generator) SaveTo(ctx context.Context, sink store.Sink) (*Generator, error) {
	err := g.observe(ctx, OpSave, func(context.Context) error {
		return g.save(sink)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Generator) save(sink store.Sink) error {
	if err := g.sign(); err != nil {
		return lerrors.Wrap(OpSave, err)
	}
	w, err := g.pipeline.Apply(sink).Create()
	if err != nil {
		return lerrors.Management(OpSave, err)
	}
	if err := g.codec.Encode(w, g.model); err != nil {
		store.Abort(w)
		return lerrors.Management(OpSave, err)
	}
	if err := w.Close(); err != nil {
		return lerrors.Management(OpSave, err)
	}
	return nil
}
