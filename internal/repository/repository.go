// Package repository defines the signed envelopes that carry an encoded
// license record together with its signature.
package repository

import (
	"fmt"
	"strings"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/codec"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/security"
)

// Decoder decodes the artifact of a signed or verified model
type Decoder interface {
	Decode(v any) error
}

// Controller signs an artifact into a model or verifies a model
type Controller interface {
	// Sign encodes artifact, signs it and stores both in the model
	Sign(signer security.Signer, artifact any) (Decoder, error)
	// Verify checks the model's signature and returns a decoder for its
	// artifact. Any error means the model is not authentic.
	Verify(verifier security.Verifier) (Decoder, error)
}

// Context creates models and their controllers
type Context interface {
	// Model returns a fresh, empty model for decoding
	Model() any
	// Controller returns a controller for model, which must come from Model
	Controller(model any, c codec.Codec) Controller
}

// Format names
const (
	FormatBasic = "basic"
	FormatJWS   = "jws"
)

// ByName returns the repository context for a configuration name
func ByName(name string) (Context, error) {
	switch strings.ToLower(name) {
	case "", FormatBasic:
		return Basic{}, nil
	case FormatJWS:
		return JWS{}, nil
	default:
		return nil, fmt.Errorf("unknown repository format %q", name)
	}
}

type decoder struct {
	codec codec.Codec
	data  []byte
}

func (d decoder) Decode(v any) error {
	return codec.Unmarshal(d.codec, d.data, v)
}

type failed struct{ err error }

func (f failed) Sign(security.Signer, any) (Decoder, error) { return nil, f.err }

func (f failed) Verify(security.Verifier) (Decoder, error) { return nil, f.err }

func unexpectedModel(model any) Controller {
	return failed{fmt.Errorf("unexpected repository model %T", model)}
}
