// Package auth signs and verifies repository models with keys from a key
// store.
package auth

import (
	"errors"
	"fmt"

	lerrors "github.com/christian-schlichtherle/truelicense-sub000/internal/errors"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/repository"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/security"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
)

// Authentication signs artifacts into repository models and verifies them
type Authentication interface {
	Sign(controller repository.Controller, artifact any) (repository.Decoder, error)
	Verify(controller repository.Controller) (repository.Decoder, error)
}

// Parameters locate the key store entry used by a Notary
type Parameters struct {
	// Source provides the key store bytes. Without a source the key store
	// is empty and every operation fails.
	Source    store.Source
	StoreType string
	Alias     string
	// StoreProtection guards the key store
	StoreProtection security.PasswordProtection
	// KeyProtection guards the private key. It defaults to StoreProtection.
	KeyProtection security.PasswordProtection
	// Algorithm overrides the certificate's signature algorithm
	Algorithm string
}

// Validate checks the mandatory parameters
func (p Parameters) Validate() error {
	if p.Alias == "" {
		return errors.New("key store alias is required")
	}
	if p.StoreProtection == nil {
		return errors.New("key store protection is required")
	}
	return nil
}

// Notary implements Authentication. The key store is loaded afresh on every
// call; callers cache results.
type Notary struct {
	params Parameters
}

// NewNotary returns a Notary for params
func NewNotary(params Parameters) (*Notary, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.KeyProtection == nil {
		params.KeyProtection = params.StoreProtection
	}
	return &Notary{params: params}, nil
}

// Alias returns the key store alias
func (n *Notary) Alias() string {
	return n.params.Alias
}

// Sign signs artifact with the private key of the entry. The key password is
// requested for writing, so password policies apply.
func (n *Notary) Sign(controller repository.Controller, artifact any) (repository.Decoder, error) {
	entry, err := n.entry(security.UsageWrite)
	if err != nil {
		return nil, err
	}
	if entry.PrivateKey == nil {
		return nil, fmt.Errorf("%w: %q", security.ErrNoPrivateKey, n.params.Alias)
	}
	signer, err := security.NewSigner(n.algorithm(entry), entry.PrivateKey)
	if err != nil {
		return nil, err
	}
	return controller.Sign(signer, artifact)
}

// Verify checks the model with the entry's certificate. Every failure is
// reported as the same confidential authentication error.
func (n *Notary) Verify(controller repository.Controller) (repository.Decoder, error) {
	decoder, err := n.verify(controller)
	if err != nil {
		return nil, lerrors.Authentication(err)
	}
	return decoder, nil
}

func (n *Notary) verify(controller repository.Controller) (repository.Decoder, error) {
	entry, err := n.entry(security.UsageRead)
	if err != nil {
		return nil, err
	}
	verifier, err := security.NewVerifier(n.algorithm(entry), entry.Certificate.PublicKey)
	if err != nil {
		return nil, err
	}
	return controller.Verify(verifier)
}

func (n *Notary) algorithm(entry *security.Entry) string {
	if n.params.Algorithm != "" {
		return n.params.Algorithm
	}
	return security.CertificateAlgorithm(entry.Certificate)
}

func (n *Notary) entry(keyUsage security.Usage) (*security.Entry, error) {
	if n.params.Source == nil {
		return nil, fmt.Errorf("%w: %q", security.ErrNoSuchEntry, n.params.Alias)
	}
	data, err := store.ReadAll(n.params.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to read key store: %w", err)
	}

	storePassword, err := n.params.StoreProtection.Password(security.UsageRead)
	if err != nil {
		return nil, err
	}
	defer security.Wipe(storePassword)
	ks, err := security.LoadKeyStore(n.params.StoreType, data, storePassword)
	if err != nil {
		return nil, err
	}

	// Verifying only needs the certificate, so the key password is asked
	// for only if the entry cannot be read without it.
	if keyUsage == security.UsageRead {
		entry, err := ks.Entry(n.params.Alias, nil)
		if err == nil || errors.Is(err, security.ErrNoSuchEntry) || errors.Is(err, security.ErrNoCertificate) {
			return entry, err
		}
	}
	keyPassword, err := n.params.KeyProtection.Password(keyUsage)
	if err != nil {
		return nil, err
	}
	defer security.Wipe(keyPassword)
	return ks.Entry(n.params.Alias, keyPassword)
}
