package license

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	lerrors "github.com/christian-schlichtherle/truelicense-sub000/internal/errors"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/repository"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
)

// ConsumerManager installs, loads, verifies and uninstalls the license key
// of one subject
type ConsumerManager interface {
	Subject() string
	// Install authenticates the key in source and copies it into the
	// store. The license terms are not validated, so expired keys can be
	// installed.
	Install(ctx context.Context, source store.Source) error
	// Load returns the installed license without validating it
	Load(ctx context.Context) (*License, error)
	// Verify validates the installed license
	Verify(ctx context.Context) error
	// Uninstall authenticates the installed key, then deletes it
	Uninstall(ctx context.Context) error
}

// operations are the manager operations without logging and tracing. The
// chained manager calls them on its parent because a parent failure is
// routine there.
type operations interface {
	install(ctx context.Context, source store.Source) error
	load(ctx context.Context) (*License, error)
	verify(ctx context.Context) error
	uninstall(ctx context.Context) error
}

// ConsumerParameters configure a CachingManager
type ConsumerParameters struct {
	Parameters
	// Store holds the installed key. It must be comparable, which all
	// store package types are.
	Store store.Store
	// CachePeriod bounds how long authentication and decoding results are
	// reused. Zero disables caching and NoExpiry disables expiry.
	CachePeriod time.Duration
}

// Validate checks the mandatory parameters
func (p *ConsumerParameters) Validate() error {
	if err := p.Parameters.Validate(); err != nil {
		return err
	}
	if p.Store == nil {
		return errors.New("store is required")
	}
	if !reflect.TypeOf(p.Store).Comparable() {
		return errors.New("store must be comparable")
	}
	if p.CachePeriod < 0 {
		return errors.New("cache period must not be negative")
	}
	return nil
}

// storeLocks serializes writes to the same store across all managers
var storeLocks sync.Map

func lockFor(s store.Store) *sync.Mutex {
	mu, _ := storeLocks.LoadOrStore(s, new(sync.Mutex))
	return mu.(*sync.Mutex)
}

// CachingManager is a ConsumerManager that caches the authenticated decoder
// and the decoded license of the last source it processed
type CachingManager struct {
	*engine
	store    store.Store
	decoders *cacheSlot[repository.Decoder]
	licenses *cacheSlot[*License]
}

var _ ConsumerManager = (*CachingManager)(nil)

// NewConsumerManager returns a caching consumer manager for p
func NewConsumerManager(p ConsumerParameters) (*CachingManager, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e, err := newEngine(p.Parameters)
	if err != nil {
		return nil, err
	}
	return newCachingManager(e, p.Store, p.CachePeriod), nil
}

func newCachingManager(e *engine, s store.Store, period time.Duration) *CachingManager {
	now := e.clock.Now
	return &CachingManager{
		engine:   e,
		store:    s,
		decoders: newCacheSlot[repository.Decoder](period, now),
		licenses: newCacheSlot[*License](period, now),
	}
}

// Store returns the store holding the installed key
func (m *CachingManager) Store() store.Store {
	return m.store
}

// Install implements ConsumerManager
func (m *CachingManager) Install(ctx context.Context, source store.Source) error {
	return m.observe(ctx, OpInstall, func(ctx context.Context) error {
		return m.install(ctx, source)
	})
}

// Load implements ConsumerManager
func (m *CachingManager) Load(ctx context.Context) (*License, error) {
	var l *License
	err := m.observe(ctx, OpLoad, func(ctx context.Context) error {
		var err error
		l, err = m.load(ctx)
		return err
	})
	return l, err
}

// Verify implements ConsumerManager
func (m *CachingManager) Verify(ctx context.Context) error {
	return m.observe(ctx, OpVerify, m.verify)
}

// Uninstall implements ConsumerManager
func (m *CachingManager) Uninstall(ctx context.Context) error {
	return m.observe(ctx, OpUninstall, m.uninstall)
}

func (m *CachingManager) install(ctx context.Context, source store.Source) error {
	if err := m.authorization.ClearInstall(ctx); err != nil {
		return err
	}

	// The key is read once so that the authenticated bytes are the ones
	// that get installed.
	data, err := store.ReadAll(source)
	if err != nil {
		return lerrors.Management(OpInstall, err)
	}
	key := store.NewMemoryStoreWith(data)
	decoder, err := m.authenticate(key)
	if err != nil {
		return lerrors.Wrap(OpInstall, err)
	}
	l, err := decodeLicense(decoder)
	if err != nil {
		return lerrors.Management(OpInstall, err)
	}

	mu := lockFor(m.store)
	mu.Lock()
	defer mu.Unlock()
	if err := store.Copy(key, m.store); err != nil {
		return lerrors.Management(OpInstall, err)
	}
	m.decoders.put(m.store, decoder)
	m.licenses.put(m.store, l)
	return nil
}

func (m *CachingManager) load(ctx context.Context) (*License, error) {
	if err := m.authorization.ClearLoad(ctx); err != nil {
		return nil, err
	}
	decoder, err := m.cachedDecoder(ctx, m.store)
	if err != nil {
		return nil, lerrors.Wrap(OpLoad, err)
	}
	l, err := decodeLicense(decoder)
	if err != nil {
		return nil, lerrors.Management(OpLoad, err)
	}
	return l, nil
}

func (m *CachingManager) verify(ctx context.Context) error {
	if err := m.authorization.ClearVerify(ctx); err != nil {
		return err
	}
	l, ok := m.licenses.get(m.store)
	m.recordCache(ctx, "license", ok)
	if !ok {
		decoder, err := m.cachedDecoder(ctx, m.store)
		if err != nil {
			return lerrors.Wrap(OpVerify, err)
		}
		if l, err = decodeLicense(decoder); err != nil {
			return lerrors.Management(OpVerify, err)
		}
		m.licenses.put(m.store, l)
	}
	return lerrors.Wrap(OpVerify, m.validation.Validate(l))
}

func (m *CachingManager) uninstall(ctx context.Context) error {
	if err := m.authorization.ClearUninstall(ctx); err != nil {
		return err
	}
	mu := lockFor(m.store)
	mu.Lock()
	defer mu.Unlock()

	// Only an authentic key may be deleted, never an unrelated blob that
	// happens to occupy the store.
	if _, err := m.cachedDecoder(ctx, m.store); err != nil {
		return lerrors.Wrap(OpUninstall, err)
	}
	if err := m.store.Delete(); err != nil {
		return lerrors.Management(OpUninstall, err)
	}
	m.decoders.reset()
	m.licenses.reset()
	return nil
}

func (m *CachingManager) cachedDecoder(ctx context.Context, source store.Source) (repository.Decoder, error) {
	if d, ok := m.decoders.get(source); ok {
		m.recordCache(ctx, "decoder", true)
		return d, nil
	}
	m.recordCache(ctx, "decoder", false)
	d, err := m.authenticate(source)
	if err != nil {
		return nil, err
	}
	m.decoders.put(source, d)
	return d, nil
}
