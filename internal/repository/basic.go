package repository

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/codec"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/security"
)

// BasicModel keeps the encoded artifact, its signature and the signature
// algorithm as strings so that any codec can carry it
type BasicModel struct {
	Artifact  string `json:"artifact" yaml:"artifact"`
	Signature string `json:"signature" yaml:"signature"`
	Algorithm string `json:"algorithm" yaml:"algorithm"`
}

// Basic is the repository context for BasicModel
type Basic struct{}

// Model returns a new BasicModel
func (Basic) Model() any { return &BasicModel{} }

// Controller returns a controller for a *BasicModel
func (Basic) Controller(model any, c codec.Codec) Controller {
	m, ok := model.(*BasicModel)
	if !ok || m == nil {
		return unexpectedModel(model)
	}
	return basicController{model: m, codec: c}
}

type basicController struct {
	model *BasicModel
	codec codec.Codec
}

func (b basicController) Sign(signer security.Signer, artifact any) (Decoder, error) {
	data, err := codec.Marshal(b.codec, artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact: %w", err)
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("failed to sign artifact: %w", err)
	}
	b.model.Artifact = base64.StdEncoding.EncodeToString(data)
	b.model.Signature = base64.StdEncoding.EncodeToString(sig)
	b.model.Algorithm = signer.Algorithm()
	return decoder{codec: b.codec, data: data}, nil
}

func (b basicController) Verify(verifier security.Verifier) (Decoder, error) {
	if b.model.Algorithm != verifier.Algorithm() {
		return nil, fmt.Errorf("signature algorithm %q does not match %q", b.model.Algorithm, verifier.Algorithm())
	}
	data, err := base64.StdEncoding.DecodeString(b.model.Artifact)
	if err != nil {
		return nil, fmt.Errorf("malformed artifact: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(b.model.Signature)
	if err != nil {
		return nil, fmt.Errorf("malformed signature: %w", err)
	}
	if len(sig) == 0 {
		return nil, errors.New("missing signature")
	}
	if err := verifier.Verify(data, sig); err != nil {
		return nil, err
	}
	return decoder{codec: b.codec, data: data}, nil
}
