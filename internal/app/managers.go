package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/auth"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/codec"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/config"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/license"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/repository"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/security"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/transform"
)

// Managers holds the license managers built from one configuration and the
// connections they use
type Managers struct {
	Vendor *license.VendorManager
	// Consumer is a chained manager when a trial period is configured
	Consumer license.ConsumerManager
	Store    store.Store

	badgerDBs map[string]*badger.DB
	closers   []io.Closer
}

// NewManagers builds the vendor and consumer managers described by cfg.
// metrics may be nil.
func NewManagers(cfg *config.Config, logger *slog.Logger, metrics *license.Metrics) (_ *Managers, err error) {
	m := &Managers{badgerDBs: make(map[string]*badger.DB)}
	defer func() {
		if err != nil {
			m.Close()
		}
	}()

	base, err := m.parameters(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	if cfg.License.RateLimit.Enabled {
		base.Authorization = license.NewRateLimitedAuthorization(license.PermitAll{}, cfg.License.RateLimit.RPS, cfg.License.RateLimit.Burst)
	}

	if m.Vendor, err = license.NewVendorManager(base); err != nil {
		return nil, fmt.Errorf("failed to create vendor manager: %w", err)
	}

	if m.Store, err = m.openStore(cfg.Store); err != nil {
		return nil, err
	}
	consumer, err := license.NewConsumerManager(license.ConsumerParameters{
		Parameters:  base,
		Store:       m.Store,
		CachePeriod: cfg.License.CachePeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer manager: %w", err)
	}
	m.Consumer = consumer

	if cfg.Trial.Days > 0 {
		if m.Consumer, err = m.chained(cfg, base, consumer); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// chained builds the trial manager in front of parent. Unset trial
// encryption settings are inherited from the parent.
func (m *Managers) chained(cfg *config.Config, base license.Parameters, parent license.ConsumerManager) (*license.ChainedManager, error) {
	trial := base
	// Throttling trial generation would make the manager remember that it
	// cannot generate keys.
	trial.Authorization = license.PermitAll{}
	if cfg.Trial.Subject != "" {
		trial.Subject = cfg.Trial.Subject
	}

	notary, err := newNotary(cfg.Trial.Keystore, cfg.License.PasswordPolicy)
	if err != nil {
		return nil, fmt.Errorf("failed to create trial notary: %w", err)
	}
	trial.Authentication = notary

	if cfg.Trial.Encryption.Password != "" {
		enc := cfg.Trial.Encryption
		if enc.Algorithm == "" {
			enc.Algorithm = cfg.Encryption.Algorithm
		}
		if enc.ScryptN == 0 && enc.ScryptR == 0 && enc.ScryptP == 0 {
			enc.ScryptN, enc.ScryptR, enc.ScryptP = cfg.Encryption.ScryptN, cfg.Encryption.ScryptR, cfg.Encryption.ScryptP
		}
		if trial.Encryption, err = newEncryption(enc, cfg.License.PasswordPolicy); err != nil {
			return nil, fmt.Errorf("failed to create trial encryption: %w", err)
		}
	}

	trialStore, err := m.openStore(cfg.Trial.Store)
	if err != nil {
		return nil, err
	}
	chained, err := license.NewChainedManager(license.ChainedParameters{
		ConsumerParameters: license.ConsumerParameters{
			Parameters:  trial,
			Store:       trialStore,
			CachePeriod: cfg.License.CachePeriod,
		},
		Parent:    parent,
		TrialDays: cfg.Trial.Days,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chained manager: %w", err)
	}
	return chained, nil
}

func (m *Managers) parameters(cfg *config.Config, logger *slog.Logger, metrics *license.Metrics) (license.Parameters, error) {
	p := license.Parameters{
		Subject: cfg.License.Subject,
		Logger:  logger,
		Metrics: metrics,
	}
	var err error
	if p.Codec, err = codec.ByName(cfg.License.Codec); err != nil {
		return p, err
	}
	if p.Repository, err = repository.ByName(cfg.License.Format); err != nil {
		return p, err
	}
	if p.Compression, err = transform.NewCompression(cfg.License.Compression, cfg.License.CompressionLevel); err != nil {
		return p, err
	}
	if p.Encryption, err = newEncryption(cfg.Encryption, cfg.License.PasswordPolicy); err != nil {
		return p, fmt.Errorf("failed to create encryption: %w", err)
	}
	if p.Authentication, err = newNotary(cfg.Keystore, cfg.License.PasswordPolicy); err != nil {
		return p, fmt.Errorf("failed to create notary: %w", err)
	}
	return p, nil
}

// openStore returns the store described by cfg. Badger databases are shared
// between stores with the same path.
func (m *Managers) openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Kind {
	case "memory":
		return store.NewMemoryStore(), nil
	case "file", "":
		return store.NewFileStore(cfg.Path), nil
	case "badger":
		path := cfg.Path
		if path != "" {
			path = filepath.Clean(path)
		}
		db, ok := m.badgerDBs[path]
		if !ok {
			var err error
			if db, err = store.OpenBadgerDB(path); err != nil {
				return nil, err
			}
			m.badgerDBs[path] = db
			m.closers = append(m.closers, db)
		}
		return store.NewBadgerStore(db, cfg.Key), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		m.closers = append(m.closers, client)
		return store.NewRedisStore(client, cfg.Key), nil
	default:
		return nil, fmt.Errorf("unsupported store kind %q", cfg.Kind)
	}
}

// Close releases the databases and connections opened for the stores
func (m *Managers) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

func newNotary(cfg config.KeystoreConfig, policy string) (*auth.Notary, error) {
	params := auth.Parameters{
		StoreType:       strings.ToUpper(cfg.Type),
		Alias:           cfg.Alias,
		StoreProtection: protection(cfg.Password, policy),
		Algorithm:       cfg.Algorithm,
	}
	if cfg.Path != "" {
		params.Source = store.NewFileStore(cfg.Path)
	}
	if cfg.KeyPassword != "" {
		params.KeyProtection = protection(cfg.KeyPassword, policy)
	}
	return auth.NewNotary(params)
}

func newEncryption(cfg config.EncryptionConfig, policy string) (*transform.Encryption, error) {
	kdf := transform.DefaultKDFParams()
	if cfg.ScryptN > 0 {
		kdf.N = cfg.ScryptN
	}
	if cfg.ScryptR > 0 {
		kdf.R = cfg.ScryptR
	}
	if cfg.ScryptP > 0 {
		kdf.P = cfg.ScryptP
	}
	return transform.NewEncryption(cfg.Algorithm, protection(cfg.Password, policy), kdf)
}

// protection applies the password policy, which only checks passwords used
// for writing
func protection(password, policy string) security.PasswordProtection {
	p := security.Password(password)
	if policy == "minimum" {
		return security.CheckedProtection{Policy: security.MinimumPolicy{}, Protection: p}
	}
	return p
}
