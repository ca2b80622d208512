package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/codec"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/security"
)

// JWSModel carries the artifact as the "art" claim of a compact JWS. The
// "alg" header names one of the security package algorithms.
type JWSModel struct {
	Token string `json:"token" yaml:"token"`
}

// JWS is the repository context for JWSModel
type JWS struct{}

// Model returns a new JWSModel
func (JWS) Model() any { return &JWSModel{} }

// Controller returns a controller for a *JWSModel
func (JWS) Controller(model any, c codec.Codec) Controller {
	m, ok := model.(*JWSModel)
	if !ok || m == nil {
		return unexpectedModel(model)
	}
	return jwsController{model: m, codec: c}
}

type artifactClaims struct {
	Artifact string `json:"art"`
	jwt.RegisteredClaims
}

// signingMethod adapts security signers and verifiers to jwt
type signingMethod struct {
	name string
}

func init() {
	for _, name := range security.Algorithms() {
		m := &signingMethod{name: name}
		jwt.RegisterSigningMethod(name, func() jwt.SigningMethod { return m })
	}
}

func (m *signingMethod) Alg() string { return m.name }

func (m *signingMethod) Sign(signingString string, key any) ([]byte, error) {
	signer, ok := key.(security.Signer)
	if !ok || signer.Algorithm() != m.name {
		return nil, jwt.ErrInvalidKeyType
	}
	return signer.Sign([]byte(signingString))
}

func (m *signingMethod) Verify(signingString string, sig []byte, key any) error {
	verifier, ok := key.(security.Verifier)
	if !ok || verifier.Algorithm() != m.name {
		return jwt.ErrInvalidKeyType
	}
	if err := verifier.Verify([]byte(signingString), sig); err != nil {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

type jwsController struct {
	model *JWSModel
	codec codec.Codec
}

func (j jwsController) Sign(signer security.Signer, artifact any) (Decoder, error) {
	data, err := codec.Marshal(j.codec, artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact: %w", err)
	}
	method := jwt.GetSigningMethod(signer.Algorithm())
	if method == nil {
		return nil, fmt.Errorf("unsupported signature algorithm %q", signer.Algorithm())
	}
	token := jwt.NewWithClaims(method, artifactClaims{
		Artifact: string(data),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	})
	token.Header["cty"] = j.codec.ContentType()
	signed, err := token.SignedString(signer)
	if err != nil {
		return nil, fmt.Errorf("failed to sign artifact: %w", err)
	}
	j.model.Token = signed
	return decoder{codec: j.codec, data: data}, nil
}

func (j jwsController) Verify(verifier security.Verifier) (Decoder, error) {
	if j.model.Token == "" {
		return nil, errors.New("missing token")
	}
	claims := &artifactClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{verifier.Algorithm()}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.ParseWithClaims(j.model.Token, claims, func(*jwt.Token) (any, error) {
		return verifier, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return decoder{codec: j.codec, data: []byte(claims.Artifact)}, nil
}
