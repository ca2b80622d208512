package repository

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/codec"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/security"
)

type artifact struct {
	Subject string `json:"subject" yaml:"subject"`
	Amount  int    `json:"amount" yaml:"amount"`
}

type keyPair struct {
	signer   security.Signer
	verifier security.Verifier
}

func newKeyPair(t *testing.T, keyType, algorithm string) keyPair {
	t.Helper()
	entry, err := security.GenerateEntry("k", keyType, "Repository Test", time.Hour)
	require.NoError(t, err)
	s, err := security.NewSigner(algorithm, entry.PrivateKey)
	require.NoError(t, err)
	v, err := security.NewVerifier(algorithm, entry.Certificate.PublicKey)
	require.NoError(t, err)
	return keyPair{s, v}
}

// roundTrip signs in one model, encodes it, decodes it into a fresh model
// and verifies that
func roundTrip(t *testing.T, ctx Context, c codec.Codec, keys keyPair, in any) (Decoder, error) {
	t.Helper()
	model := ctx.Model()
	signed, err := ctx.Controller(model, c).Sign(keys.signer, in)
	require.NoError(t, err)

	var fromSigned artifact
	require.NoError(t, signed.Decode(&fromSigned))
	assert.Equal(t, in, &fromSigned)

	data, err := codec.Marshal(c, model)
	require.NoError(t, err)
	decoded := ctx.Model()
	require.NoError(t, codec.Unmarshal(c, data, decoded))
	return ctx.Controller(decoded, c).Verify(keys.verifier)
}

func TestRoundTrip(t *testing.T) {
	contexts := map[string]Context{FormatBasic: Basic{}, FormatJWS: JWS{}}
	codecs := map[string]codec.Codec{"json": codec.JSON{}, "yaml": codec.YAML{}}
	keys := map[string]keyPair{
		security.SHA256withECDSA: newKeyPair(t, security.KeyTypeEC, security.SHA256withECDSA),
		security.SHA256withRSA:   newKeyPair(t, security.KeyTypeRSA, security.SHA256withRSA),
		security.Ed25519:         newKeyPair(t, security.KeyTypeEd25519, security.Ed25519),
	}

	for ctxName, ctx := range contexts {
		for codecName, c := range codecs {
			for alg, kp := range keys {
				t.Run(ctxName+"/"+codecName+"/"+alg, func(t *testing.T) {
					in := &artifact{Subject: "Acme 1", Amount: 3}
					d, err := roundTrip(t, ctx, c, kp, in)
					require.NoError(t, err)

					var out artifact
					require.NoError(t, d.Decode(&out))
					assert.Equal(t, in, &out)
				})
			}
		}
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	signing := newKeyPair(t, security.KeyTypeEC, security.SHA256withECDSA)
	other := newKeyPair(t, security.KeyTypeEC, security.SHA256withECDSA)

	for _, ctx := range []Context{Basic{}, JWS{}} {
		model := ctx.Model()
		_, err := ctx.Controller(model, codec.JSON{}).Sign(signing.signer, &artifact{Subject: "x"})
		require.NoError(t, err)

		_, err = ctx.Controller(model, codec.JSON{}).Verify(other.verifier)
		assert.Error(t, err, "%T", ctx)
	}
}

func TestVerifyRejectsAlgorithmMismatch(t *testing.T) {
	ec := newKeyPair(t, security.KeyTypeEC, security.SHA256withECDSA)
	ed := newKeyPair(t, security.KeyTypeEd25519, security.Ed25519)

	for _, ctx := range []Context{Basic{}, JWS{}} {
		model := ctx.Model()
		_, err := ctx.Controller(model, codec.JSON{}).Sign(ec.signer, &artifact{Subject: "x"})
		require.NoError(t, err)
		_, err = ctx.Controller(model, codec.JSON{}).Verify(ed.verifier)
		assert.Error(t, err, "%T", ctx)
	}
}

func TestBasicTampering(t *testing.T) {
	kp := newKeyPair(t, security.KeyTypeEC, security.SHA256withECDSA)
	model := &BasicModel{}
	_, err := Basic{}.Controller(model, codec.JSON{}).Sign(kp.signer, &artifact{Subject: "Acme", Amount: 1})
	require.NoError(t, err)

	tampered := *model
	forged, err := codec.Marshal(codec.JSON{}, &artifact{Subject: "Acme", Amount: 1000})
	require.NoError(t, err)
	tampered.Artifact = base64.StdEncoding.EncodeToString(forged)
	_, err = Basic{}.Controller(&tampered, codec.JSON{}).Verify(kp.verifier)
	assert.ErrorIs(t, err, security.ErrSignatureMismatch)

	tampered = *model
	tampered.Signature = "!!"
	_, err = Basic{}.Controller(&tampered, codec.JSON{}).Verify(kp.verifier)
	assert.Error(t, err)

	tampered = *model
	tampered.Signature = ""
	_, err = Basic{}.Controller(&tampered, codec.JSON{}).Verify(kp.verifier)
	assert.Error(t, err)
}

func TestJWSTampering(t *testing.T) {
	kp := newKeyPair(t, security.KeyTypeEC, security.SHA256withECDSA)
	model := &JWSModel{}
	_, err := JWS{}.Controller(model, codec.JSON{}).Sign(kp.signer, &artifact{Subject: "Acme", Amount: 1})
	require.NoError(t, err)

	parts := strings.Split(model.Token, ".")
	require.Len(t, parts, 3)
	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"art":"{\"subject\":\"Acme\",\"amount\":1000}"}`))
	tampered := &JWSModel{Token: parts[0] + "." + forged + "." + parts[2]}
	_, err = JWS{}.Controller(tampered, codec.JSON{}).Verify(kp.verifier)
	assert.Error(t, err)

	_, err = JWS{}.Controller(&JWSModel{}, codec.JSON{}).Verify(kp.verifier)
	assert.Error(t, err)
}

func TestUnexpectedModel(t *testing.T) {
	kp := newKeyPair(t, security.KeyTypeEC, security.SHA256withECDSA)
	_, err := Basic{}.Controller(&JWSModel{}, codec.JSON{}).Sign(kp.signer, &artifact{})
	assert.Error(t, err)
	_, err = JWS{}.Controller(&BasicModel{}, codec.JSON{}).Verify(kp.verifier)
	assert.Error(t, err)
}

func TestByName(t *testing.T) {
	ctx, err := ByName("")
	require.NoError(t, err)
	assert.IsType(t, Basic{}, ctx)

	ctx, err = ByName("JWS")
	require.NoError(t, err)
	assert.IsType(t, JWS{}, ctx)

	_, err = ByName("xml")
	assert.Error(t, err)
}
