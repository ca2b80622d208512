package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Key types accepted by GenerateEntry
const (
	KeyTypeEC      = "EC"
	KeyTypeRSA     = "RSA"
	KeyTypeEd25519 = "Ed25519"
)

// GenerateEntry creates a key pair with a self-signed certificate for
// commonName, valid for the given duration from now.
func GenerateEntry(alias, keyType, commonName string, validity time.Duration) (*Entry, error) {
	var (
		key    crypto.Signer
		sigAlg x509.SignatureAlgorithm
		err    error
	)
	switch strings.ToUpper(keyType) {
	case "", "EC", "ECDSA":
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		sigAlg = x509.ECDSAWithSHA256
	case KeyTypeRSA:
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		sigAlg = x509.SHA256WithRSA
	case strings.ToUpper(KeyTypeEd25519):
		_, key, err = ed25519.GenerateKey(rand.Reader)
		sigAlg = x509.PureEd25519
	default:
		return nil, fmt.Errorf("unsupported key type %q", keyType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            pkix.Name{CommonName: commonName},
		NotBefore:          now.Add(-time.Minute),
		NotAfter:           now.Add(validity),
		KeyUsage:           x509.KeyUsageDigitalSignature,
		SignatureAlgorithm: sigAlg,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Alias:       alias,
		PrivateKey:  key,
		Certificate: cert,
		Chain:       []*x509.Certificate{cert},
	}, nil
}

// EncodePEM writes entries as a PEM key store. Private keys are included
// only when withKeys is set and are encrypted when keyPassword is not empty.
func EncodePEM(entries []*Entry, withKeys bool, keyPassword []byte) ([]byte, error) {
	var out []byte
	for _, e := range entries {
		headers := map[string]string{AliasHeader: e.Alias}
		if withKeys && e.PrivateKey != nil {
			der, err := x509.MarshalPKCS8PrivateKey(e.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("failed to encode private key for %q: %w", e.Alias, err)
			}
			block := &pem.Block{Type: "PRIVATE KEY", Headers: headers, Bytes: der}
			if len(keyPassword) > 0 {
				// Legacy PEM encryption is what parsePrivateKey can read back.
				block, err = x509.EncryptPEMBlock(rand.Reader, "PRIVATE KEY", der, keyPassword, x509.PEMCipherAES256)
				if err != nil {
					return nil, err
				}
				block.Headers[AliasHeader] = e.Alias
			}
			out = append(out, pem.EncodeToMemory(block)...)
		}
		for _, cert := range e.Chain {
			out = append(out, pem.EncodeToMemory(&pem.Block{
				Type:    "CERTIFICATE",
				Headers: map[string]string{AliasHeader: e.Alias},
				Bytes:   cert.Raw,
			})...)
		}
	}
	return out, nil
}
