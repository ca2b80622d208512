package security

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"

	"software.sslmate.com/src/go-pkcs12"
)

// Key store types
const (
	StoreTypePKCS12 = "PKCS12"
	StoreTypePEM    = "PEM"
)

// AliasHeader is the PEM header naming the entry a block belongs to. It is
// the header written by PKCS#12 to PEM conversion.
const AliasHeader = "friendlyName"

// DefaultAlias is used for PEM blocks without an alias header
const DefaultAlias = "default"

var (
	// ErrNoSuchEntry is returned for unknown aliases
	ErrNoSuchEntry = errors.New("no such key store entry")
	// ErrNoPrivateKey is returned when signing with a certificate-only entry
	ErrNoPrivateKey = errors.New("key store entry has no private key")
	// ErrNoCertificate is returned for entries without a certificate
	ErrNoCertificate = errors.New("key store entry has no certificate")
)

// Entry is a resolved key store entry. PrivateKey is nil for trusted
// certificate entries.
type Entry struct {
	Alias       string
	PrivateKey  crypto.Signer
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

// KeyStore resolves entries by alias
type KeyStore interface {
	Aliases() []string
	Entry(alias string, keyPassword []byte) (*Entry, error)
}

// LoadKeyStore parses data as a key store of the given type. The password
// protects the integrity of PKCS#12 stores; PEM bundles carry no integrity
// protection of their own.
func LoadKeyStore(storeType string, data []byte, password []byte) (KeyStore, error) {
	switch strings.ToUpper(storeType) {
	case StoreTypePKCS12, "P12", "PFX":
		blocks, err := decodePKCS12(data, string(password))
		if err != nil {
			return nil, fmt.Errorf("failed to decode PKCS#12 key store: %w", err)
		}
		return newPEMKeyStore(blocks)
	case StoreTypePEM, "":
		var blocks []*pem.Block
		for rest := data; ; {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			blocks = append(blocks, block)
		}
		if len(blocks) == 0 {
			return nil, errors.New("no PEM blocks found")
		}
		return newPEMKeyStore(blocks)
	default:
		return nil, fmt.Errorf("unsupported key store type %q", storeType)
	}
}

// decodePKCS12 converts a PKCS#12 store to PEM blocks named by their
// friendlyName. ToPEM only converts RSA and EC keys, so other keys are read
// with DecodeChain and filed under DefaultAlias.
func decodePKCS12(data []byte, password string) ([]*pem.Block, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err == nil || errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return blocks, err
	}
	key, cert, chain, chainErr := pkcs12.DecodeChain(data, password)
	if chainErr != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{AliasHeader: DefaultAlias}
	blocks = []*pem.Block{{Type: "PRIVATE KEY", Headers: headers, Bytes: der}}
	for _, c := range append([]*x509.Certificate{cert}, chain...) {
		blocks = append(blocks, &pem.Block{Type: "CERTIFICATE", Headers: headers, Bytes: c.Raw})
	}
	return blocks, nil
}

type pemEntry struct {
	key   *pem.Block
	certs []*x509.Certificate
}

type pemKeyStore struct {
	entries map[string]*pemEntry
}

func newPEMKeyStore(blocks []*pem.Block) (*pemKeyStore, error) {
	ks := &pemKeyStore{entries: make(map[string]*pemEntry)}
	for _, block := range blocks {
		alias := block.Headers[AliasHeader]
		if alias == "" {
			alias = DefaultAlias
		}
		e := ks.entries[alias]
		if e == nil {
			e = &pemEntry{}
			ks.entries[alias] = e
		}
		switch {
		case block.Type == "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate for %q: %w", alias, err)
			}
			e.certs = append(e.certs, cert)
		case strings.HasSuffix(block.Type, "PRIVATE KEY"):
			if e.key != nil {
				return nil, fmt.Errorf("duplicate private key for %q", alias)
			}
			e.key = block
		}
	}
	return ks, nil
}

func (ks *pemKeyStore) Aliases() []string {
	aliases := make([]string, 0, len(ks.entries))
	for alias := range ks.entries {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

func (ks *pemKeyStore) Entry(alias string, keyPassword []byte) (*Entry, error) {
	e, ok := ks.entries[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchEntry, alias)
	}
	if len(e.certs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoCertificate, alias)
	}
	entry := &Entry{
		Alias:       alias,
		Certificate: e.certs[0],
		Chain:       e.certs,
	}
	if e.key != nil {
		key, err := parsePrivateKey(e.key, keyPassword)
		if err != nil {
			return nil, fmt.Errorf("private key for %q: %w", alias, err)
		}
		entry.PrivateKey = key
	}
	return entry, nil
}

func parsePrivateKey(block *pem.Block, password []byte) (crypto.Signer, error) {
	der := block.Bytes
	// Legacy RFC 1423 encryption is the only PEM key encryption the standard
	// library reads.
	if x509.IsEncryptedPEMBlock(block) {
		var err error
		der, err = x509.DecryptPEMBlock(block, password)
		if err != nil {
			return nil, err
		}
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		return signer, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("unrecognized private key encoding")
}
