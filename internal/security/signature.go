package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
)

// Signature algorithm names
const (
	SHA256withECDSA  = "SHA256withECDSA"
	SHA384withECDSA  = "SHA384withECDSA"
	SHA512withECDSA  = "SHA512withECDSA"
	SHA256withRSA    = "SHA256withRSA"
	SHA384withRSA    = "SHA384withRSA"
	SHA512withRSA    = "SHA512withRSA"
	SHA256withRSAPSS = "SHA256withRSA/PSS"
	SHA384withRSAPSS = "SHA384withRSA/PSS"
	SHA512withRSAPSS = "SHA512withRSA/PSS"
	Ed25519          = "Ed25519"
	DefaultAlgorithm = SHA256withECDSA
	keyTypeECDSA     = "ECDSA"
	keyTypeRSA       = "RSA"
	keyTypeRSAPSS    = "RSA/PSS"
	keyTypeEd25519   = "Ed25519"
)

// ErrSignatureMismatch is returned when a signature does not verify
var ErrSignatureMismatch = errors.New("signature mismatch")

type algorithm struct {
	hash    crypto.Hash
	keyType string
}

var algorithms = map[string]algorithm{
	SHA256withECDSA:  {crypto.SHA256, keyTypeECDSA},
	SHA384withECDSA:  {crypto.SHA384, keyTypeECDSA},
	SHA512withECDSA:  {crypto.SHA512, keyTypeECDSA},
	SHA256withRSA:    {crypto.SHA256, keyTypeRSA},
	SHA384withRSA:    {crypto.SHA384, keyTypeRSA},
	SHA512withRSA:    {crypto.SHA512, keyTypeRSA},
	SHA256withRSAPSS: {crypto.SHA256, keyTypeRSAPSS},
	SHA384withRSAPSS: {crypto.SHA384, keyTypeRSAPSS},
	SHA512withRSAPSS: {crypto.SHA512, keyTypeRSAPSS},
	Ed25519:          {0, keyTypeEd25519},
}

var certificateAlgorithms = map[x509.SignatureAlgorithm]string{
	x509.ECDSAWithSHA256:  SHA256withECDSA,
	x509.ECDSAWithSHA384:  SHA384withECDSA,
	x509.ECDSAWithSHA512:  SHA512withECDSA,
	x509.SHA256WithRSA:    SHA256withRSA,
	x509.SHA384WithRSA:    SHA384withRSA,
	x509.SHA512WithRSA:    SHA512withRSA,
	x509.SHA256WithRSAPSS: SHA256withRSAPSS,
	x509.SHA384WithRSAPSS: SHA384withRSAPSS,
	x509.SHA512WithRSAPSS: SHA512withRSAPSS,
	x509.PureEd25519:      Ed25519,
}

// Algorithms returns the supported signature algorithm names
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CertificateAlgorithm returns the algorithm that signed cert, falling back
// to DefaultAlgorithm for algorithms without an engine.
func CertificateAlgorithm(cert *x509.Certificate) string {
	if name, ok := certificateAlgorithms[cert.SignatureAlgorithm]; ok {
		return name
	}
	return DefaultAlgorithm
}

// Signer computes signatures with one algorithm
type Signer interface {
	Algorithm() string
	Sign(data []byte) ([]byte, error)
}

// Verifier checks signatures with one algorithm
type Verifier interface {
	Algorithm() string
	Verify(data, signature []byte) error
}

type engine struct {
	name string
	alg  algorithm
}

func newEngine(name string) (engine, error) {
	alg, ok := algorithms[name]
	if !ok {
		return engine{}, fmt.Errorf("unsupported signature algorithm %q", name)
	}
	return engine{name: name, alg: alg}, nil
}

func (e engine) Algorithm() string { return e.name }

func (e engine) digest(data []byte) []byte {
	if e.alg.hash == 0 {
		return data
	}
	h := e.alg.hash.New()
	h.Write(data)
	return h.Sum(nil)
}

type signer struct {
	engine
	key crypto.Signer
}

// NewSigner returns a Signer for the named algorithm. The key type must
// match the algorithm.
func NewSigner(name string, key crypto.Signer) (Signer, error) {
	e, err := newEngine(name)
	if err != nil {
		return nil, err
	}
	if err := checkKeyType(e.alg.keyType, key.Public()); err != nil {
		return nil, err
	}
	return signer{engine: e, key: key}, nil
}

func (s signer) Sign(data []byte) ([]byte, error) {
	var opts crypto.SignerOpts = s.alg.hash
	if s.alg.keyType == keyTypeRSAPSS {
		opts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: s.alg.hash}
	}
	return s.key.Sign(rand.Reader, s.digest(data), opts)
}

type verifier struct {
	engine
	key crypto.PublicKey
}

// NewVerifier returns a Verifier for the named algorithm
func NewVerifier(name string, key crypto.PublicKey) (Verifier, error) {
	e, err := newEngine(name)
	if err != nil {
		return nil, err
	}
	if err := checkKeyType(e.alg.keyType, key); err != nil {
		return nil, err
	}
	return verifier{engine: e, key: key}, nil
}

func (v verifier) Verify(data, signature []byte) error {
	digest := v.digest(data)
	var ok bool
	switch key := v.key.(type) {
	case *ecdsa.PublicKey:
		ok = ecdsa.VerifyASN1(key, digest, signature)
	case *rsa.PublicKey:
		var err error
		if v.alg.keyType == keyTypeRSAPSS {
			err = rsa.VerifyPSS(key, v.alg.hash, digest, signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
		} else {
			err = rsa.VerifyPKCS1v15(key, v.alg.hash, digest, signature)
		}
		ok = err == nil
	case ed25519.PublicKey:
		ok = ed25519.Verify(key, digest, signature)
	}
	if !ok {
		return ErrSignatureMismatch
	}
	return nil
}

func checkKeyType(keyType string, key crypto.PublicKey) error {
	var ok bool
	switch key.(type) {
	case *ecdsa.PublicKey:
		ok = keyType == keyTypeECDSA
	case *rsa.PublicKey:
		ok = keyType == keyTypeRSA || keyType == keyTypeRSAPSS
	case ed25519.PublicKey:
		ok = keyType == keyTypeEd25519
	}
	if !ok {
		return fmt.Errorf("key type %T does not match %s signatures", key, keyType)
	}
	return nil
}
