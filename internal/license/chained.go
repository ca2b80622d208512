package license

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	lerrors "github.com/christian-schlichtherle/truelicense-sub000/internal/errors"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
)

// ChainedParameters configure a ChainedManager. The embedded consumer
// parameters describe the local store holding the free trial key; their
// authentication needs a private key to generate one.
type ChainedParameters struct {
	ConsumerParameters
	Parent ConsumerManager
	// TrialDays is the length of the free trial period. Zero disables
	// trial key generation.
	TrialDays int
}

// Validate checks the mandatory parameters
func (p *ChainedParameters) Validate() error {
	if p.Parent == nil {
		return errors.New("parent manager is required")
	}
	if p.TrialDays < 0 {
		return errors.New("trial days must not be negative")
	}
	return p.ConsumerParameters.Validate()
}

// ChainedManager tries every operation on its parent first and falls back
// to the local store. When neither holds a usable key, a free trial key is
// generated into the local store, but only once per store.
type ChainedManager struct {
	*CachingManager
	parent ConsumerManager
	vendor *VendorManager

	canGenerateOnce sync.Once
	canGenerate     bool
}

var _ ConsumerManager = (*ChainedManager)(nil)

// NewChainedManager returns a chained manager for p
func NewChainedManager(p ChainedParameters) (*ChainedManager, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e, err := newEngine(p.Parameters)
	if err != nil {
		return nil, err
	}
	m := &ChainedManager{
		CachingManager: newCachingManager(e, p.Store, p.CachePeriod),
		parent:         p.Parent,
	}
	if p.TrialDays > 0 {
		trial := *e
		trial.initialization = TrialInitialization(e.initialization, p.TrialDays)
		m.vendor = &VendorManager{engine: &trial}
	}
	return m, nil
}

// Parent returns the manager tried first
func (m *ChainedManager) Parent() ConsumerManager {
	return m.parent
}

// Install implements ConsumerManager. If this manager can generate trial
// keys, a parent failure is final: a trial must not be replaced by an
// unlicensed key.
func (m *ChainedManager) Install(ctx context.Context, source store.Source) error {
	return m.observe(ctx, OpInstall, func(ctx context.Context) error {
		return m.install(ctx, source)
	})
}

// Load implements ConsumerManager
func (m *ChainedManager) Load(ctx context.Context) (*License, error) {
	var l *License
	err := m.observe(ctx, OpLoad, func(ctx context.Context) error {
		var err error
		l, err = m.load(ctx)
		return err
	})
	return l, err
}

// Verify implements ConsumerManager
func (m *ChainedManager) Verify(ctx context.Context) error {
	return m.observe(ctx, OpVerify, m.verify)
}

// Uninstall implements ConsumerManager. Like Install, a parent failure is
// final if this manager can generate trial keys, so a trial key cannot be
// removed to start a new trial.
func (m *ChainedManager) Uninstall(ctx context.Context) error {
	return m.observe(ctx, OpUninstall, m.uninstall)
}

func (m *ChainedManager) install(ctx context.Context, source store.Source) error {
	first := m.parentInstall(ctx, source)
	if first == nil {
		return nil
	}
	// the local manager is not throttled
	if errors.Is(first, ErrRateLimited) {
		return first
	}
	m.parentFailed(ctx, OpInstall, first)
	if m.canGenerateKeys(ctx) {
		return first
	}
	return m.CachingManager.install(ctx, source)
}

func (m *ChainedManager) load(ctx context.Context) (*License, error) {
	l, first := m.parentLoad(ctx)
	if first == nil {
		return l, nil
	}
	m.parentFailed(ctx, OpLoad, first)
	if l, err := m.CachingManager.load(ctx); err == nil {
		return l, nil
	}

	mu := lockFor(m.store)
	mu.Lock()
	defer mu.Unlock()
	l, third := m.CachingManager.load(ctx)
	if third == nil {
		return l, nil
	}
	g, err := m.generateIfNewTrial(ctx, third)
	if err != nil {
		return nil, err
	}
	return g.License()
}

func (m *ChainedManager) verify(ctx context.Context) error {
	first := m.parentVerify(ctx)
	if first == nil {
		return nil
	}
	m.parentFailed(ctx, OpVerify, first)
	if err := m.CachingManager.verify(ctx); err == nil {
		return nil
	}

	mu := lockFor(m.store)
	mu.Lock()
	defer mu.Unlock()
	third := m.CachingManager.verify(ctx)
	if third == nil {
		return nil
	}
	_, err := m.generateIfNewTrial(ctx, third)
	return err
}

func (m *ChainedManager) uninstall(ctx context.Context) error {
	first := m.parentUninstall(ctx)
	if first == nil {
		return nil
	}
	if errors.Is(first, ErrRateLimited) {
		return first
	}
	m.parentFailed(ctx, OpUninstall, first)
	if m.canGenerateKeys(ctx) {
		return first
	}
	return m.CachingManager.uninstall(ctx)
}

// canGenerateKeys reports whether a trial key can be generated with the
// local credentials. The answer is computed once by generating a key into
// a throwaway store.
func (m *ChainedManager) canGenerateKeys(ctx context.Context) bool {
	m.canGenerateOnce.Do(func() {
		if m.vendor == nil {
			return
		}
		g, err := m.vendor.generate(ctx, New())
		if err == nil {
			err = g.save(store.NewMemoryStore())
		}
		if err != nil {
			m.logger.DebugContext(ctx, "trial key generation is unavailable",
				slog.String("subject", m.subject),
				slog.String("error", err.Error()))
			return
		}
		m.canGenerate = true
	})
	return m.canGenerate
}

// generateIfNewTrial saves a trial key to the local store unless the store
// already holds a key, which prevents restarting an expired trial. The
// caller must hold the store lock. cause is returned if no key is
// generated.
func (m *ChainedManager) generateIfNewTrial(ctx context.Context, cause error) (*Generator, error) {
	if !m.canGenerateKeys(ctx) {
		return nil, cause
	}
	exists, err := m.store.Exists()
	if err != nil {
		return nil, lerrors.Management(OpGenerate, err)
	}
	if exists {
		return nil, cause
	}
	g, err := m.vendor.generate(ctx, New())
	if err != nil {
		return nil, err
	}
	if err := g.save(m.store); err != nil {
		return nil, err
	}
	m.decoders.reset()
	m.licenses.reset()
	m.recordTrialKey(ctx)
	m.logger.InfoContext(ctx, "generated free trial license key",
		slog.String("subject", m.subject),
		slog.Time("not_after", g.license.NotAfter))
	return g, nil
}

func (m *ChainedManager) parentFailed(ctx context.Context, op string, err error) {
	m.logger.DebugContext(ctx, "parent license manager failed, falling back",
		slog.String("operation", op),
		slog.String("subject", m.subject),
		slog.String("error", err.Error()))
}

func (m *ChainedManager) parentInstall(ctx context.Context, source store.Source) error {
	if p, ok := m.parent.(operations); ok {
		return p.install(ctx, source)
	}
	return m.parent.Install(ctx, source)
}

func (m *ChainedManager) parentLoad(ctx context.Context) (*License, error) {
	if p, ok := m.parent.(operations); ok {
		return p.load(ctx)
	}
	return m.parent.Load(ctx)
}

func (m *ChainedManager) parentVerify(ctx context.Context) error {
	if p, ok := m.parent.(operations); ok {
		return p.verify(ctx)
	}
	return m.parent.Verify(ctx)
}

func (m *ChainedManager) parentUninstall(ctx context.Context) error {
	if p, ok := m.parent.(operations); ok {
		return p.uninstall(ctx)
	}
	return m.parent.Uninstall(ctx)
}
