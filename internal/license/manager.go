package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/auth"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/codec"
	lerrors "github.com/christian-schlichtherle/truelicense-sub000/internal/errors"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/infrastructure"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/repository"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/transform"
)

// Parameters configure the license management shared by vendor and
// consumer managers
type Parameters struct {
	// Subject identifies the licensed product, e.g. "Acme 1.X"
	Subject        string
	Authentication auth.Authentication
	// Encryption is applied after Compression when keys are written
	Encryption transform.Transformation
	// Compression defaults to gzip
	Compression transform.Transformation
	// Codec encodes licenses and repository models. It defaults to JSON.
	Codec codec.Codec
	// Repository defaults to the basic format
	Repository repository.Context
	// Initialization defaults to DefaultInitialization
	Initialization Initialization
	// Validation defaults to DefaultValidation
	Validation    Validation
	Authorization Authorization
	Clock         Clock
	Logger        *slog.Logger
	// Metrics are optional
	Metrics *Metrics
}

// Validate checks the mandatory parameters
func (p *Parameters) Validate() error {
	if p.Subject == "" {
		return errors.New("license subject is required")
	}
	if p.Authentication == nil {
		return errors.New("authentication is required")
	}
	if p.Encryption == nil {
		return errors.New("encryption is required")
	}
	return nil
}

// engine implements the steps shared by all managers
type engine struct {
	subject        string
	authentication auth.Authentication
	pipeline       transform.Transformation
	codec          codec.Codec
	repository     repository.Context
	initialization Initialization
	validation     Validation
	authorization  Authorization
	clock          Clock
	logger         *slog.Logger
	metrics        *Metrics
}

func newEngine(p Parameters) (*engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e := &engine{
		subject:        p.Subject,
		authentication: p.Authentication,
		codec:          p.Codec,
		repository:     p.Repository,
		initialization: p.Initialization,
		validation:     p.Validation,
		authorization:  p.Authorization,
		clock:          p.Clock,
		logger:         p.Logger,
		metrics:        p.Metrics,
	}
	compression := p.Compression
	if compression == nil {
		c, err := transform.NewCompression(transform.Gzip, 0)
		if err != nil {
			return nil, err
		}
		compression = c
	}
	e.pipeline = transform.Chain(compression, p.Encryption)
	if e.codec == nil {
		e.codec = codec.JSON{}
	}
	if e.repository == nil {
		e.repository = repository.Basic{}
	}
	if e.clock == nil {
		e.clock = SystemClock
	}
	if e.initialization == nil {
		e.initialization = DefaultInitialization(e.subject, e.clock)
	}
	if e.validation == nil {
		e.validation = DefaultValidation(e.subject, e.clock)
	}
	if e.authorization == nil {
		e.authorization = PermitAll{}
	}
	if e.logger == nil {
		e.logger = infrastructure.GetLogger()
	}
	e.logger = infrastructure.WithComponent(e.logger, component)
	return e, nil
}

// Subject returns the licensed product
func (e *engine) Subject() string {
	return e.subject
}

// authenticate decrypts and decompresses the key in source, decodes the
// repository model and verifies its signature
func (e *engine) authenticate(source store.Source) (repository.Decoder, error) {
	data, err := store.ReadAll(e.pipeline.Unapply(source))
	if err != nil {
		if errors.Is(err, transform.ErrCorrupt) || errors.Is(err, transform.ErrTruncated) {
			return nil, lerrors.Authentication(err)
		}
		return nil, err
	}
	model := e.repository.Model()
	if err := codec.Unmarshal(e.codec, data, model); err != nil {
		return nil, lerrors.Authentication(fmt.Errorf("failed to decode repository model: %w", err))
	}
	return e.authentication.Verify(e.repository.Controller(model, e.codec))
}

func decodeLicense(d repository.Decoder) (*License, error) {
	l := new(License)
	if err := d.Decode(l); err != nil {
		return nil, fmt.Errorf("failed to decode license: %w", err)
	}
	return l, nil
}

// VendorManager generates license keys
type VendorManager struct {
	*engine
}

// NewVendorManager returns a vendor manager for p. The authentication of p
// must be able to sign.
func NewVendorManager(p Parameters) (*VendorManager, error) {
	e, err := newEngine(p)
	if err != nil {
		return nil, err
	}
	return &VendorManager{engine: e}, nil
}

// GenerateKeyFrom returns a generator for a key with the terms of l. The
// caller's license is never modified: a copy is initialized and validated,
// and a validation failure aborts the generation.
func (m *VendorManager) GenerateKeyFrom(ctx context.Context, l *License) (*Generator, error) {
	var g *Generator
	err := m.observe(ctx, OpGenerate, func(ctx context.Context) error {
		var err error
		g, err = m.generate(ctx, l)
		return err
	})
	return g, err
}

func (m *VendorManager) generate(ctx context.Context, l *License) (*Generator, error) {
	if err := m.authorization.ClearGenerate(ctx); err != nil {
		return nil, err
	}
	if l == nil {
		l = New()
	}
	duplicate, err := codec.Clone(m.codec, l)
	if err != nil {
		return nil, lerrors.Management(OpGenerate, err)
	}
	m.initialization.Initialize(duplicate)
	if err := m.validation.Validate(duplicate); err != nil {
		return nil, lerrors.Wrap(OpGenerate, err)
	}
	return &Generator{engine: m.engine, license: duplicate}, nil
}
