package security

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinimumPolicy(t *testing.T) {
	tests := []struct {
		name     string
		password string
		valid    bool
	}{
		{"empty", "", false},
		{"too short", "abc123", false},
		{"letters only", "abcdefghij", false},
		{"digits only", "1234567890", false},
		{"letters and digits", "test1234", true},
		{"unicode letters", "pässwört1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MinimumPolicy{}.Check([]byte(tt.password))
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrWeakPassword)
			}
		})
	}
}

func TestCheckedProtection(t *testing.T) {
	weak := CheckedProtection{Policy: MinimumPolicy{}, Protection: Password("weak")}

	pw, err := weak.Password(UsageRead)
	require.NoError(t, err)
	assert.Equal(t, []byte("weak"), pw)

	_, err = weak.Password(UsageWrite)
	assert.ErrorIs(t, err, ErrWeakPassword)

	strong := CheckedProtection{Policy: MinimumPolicy{}, Protection: Password("change1t")}
	pw, err = strong.Password(UsageWrite)
	require.NoError(t, err)
	assert.Equal(t, []byte("change1t"), pw)

	Wipe(pw)
	assert.Equal(t, make([]byte, len(pw)), pw)
}

func TestLoadKeyStorePKCS12(t *testing.T) {
	data, err := os.ReadFile("testdata/vendor.p12")
	require.NoError(t, err)

	t.Run("valid password", func(t *testing.T) {
		ks, err := LoadKeyStore(StoreTypePKCS12, data, []byte("test1234"))
		require.NoError(t, err)
		assert.Contains(t, ks.Aliases(), "mykey")

		entry, err := ks.Entry("mykey", []byte("test1234"))
		require.NoError(t, err)
		require.NotNil(t, entry.PrivateKey)
		assert.Equal(t, "Acme Vendor", entry.Certificate.Subject.CommonName)
		assert.Equal(t, SHA256withECDSA, CertificateAlgorithm(entry.Certificate))
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := LoadKeyStore(StoreTypePKCS12, data, []byte("wrong"))
		assert.Error(t, err)
	})

	t.Run("unknown alias", func(t *testing.T) {
		ks, err := LoadKeyStore(StoreTypePKCS12, data, []byte("test1234"))
		require.NoError(t, err)
		_, err = ks.Entry("other", nil)
		assert.ErrorIs(t, err, ErrNoSuchEntry)
	})
}

func TestLoadKeyStorePBES2(t *testing.T) {
	tests := []struct {
		name      string
		fixture   string
		algorithm string
	}{
		{"EC key", "testdata/vendor-pbes2.p12", SHA256withECDSA},
		{"Ed25519 key", "testdata/ed25519-pbes2.p12", Ed25519},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := os.ReadFile(tt.fixture)
			require.NoError(t, err)

			ks, err := LoadKeyStore(StoreTypePKCS12, data, []byte("test1234"))
			require.NoError(t, err)
			require.Len(t, ks.Aliases(), 1)

			entry, err := ks.Entry(ks.Aliases()[0], nil)
			require.NoError(t, err)
			require.NotNil(t, entry.PrivateKey)
			assert.Equal(t, tt.algorithm, CertificateAlgorithm(entry.Certificate))

			_, err = LoadKeyStore(StoreTypePKCS12, data, []byte("wrong"))
			assert.Error(t, err)
		})
	}

	data, err := os.ReadFile("testdata/vendor-pbes2.p12")
	require.NoError(t, err)
	ks, err := LoadKeyStore(StoreTypePKCS12, data, []byte("test1234"))
	require.NoError(t, err)
	assert.Equal(t, []string{"mykey"}, ks.Aliases())
}

func TestLoadKeyStorePEM(t *testing.T) {
	data, err := os.ReadFile("testdata/public.pem")
	require.NoError(t, err)

	ks, err := LoadKeyStore(StoreTypePEM, data, nil)
	require.NoError(t, err)
	entry, err := ks.Entry("mykey", nil)
	require.NoError(t, err)
	assert.Nil(t, entry.PrivateKey)
	assert.NotNil(t, entry.Certificate)

	_, err = LoadKeyStore(StoreTypePEM, []byte("not pem"), nil)
	assert.Error(t, err)

	_, err = LoadKeyStore("JKS", data, nil)
	assert.Error(t, err)
}

func TestEncodePEMRoundTrip(t *testing.T) {
	entry, err := GenerateEntry("vendor", KeyTypeEC, "Test Vendor", time.Hour)
	require.NoError(t, err)

	t.Run("plain key", func(t *testing.T) {
		data, err := EncodePEM([]*Entry{entry}, true, nil)
		require.NoError(t, err)
		ks, err := LoadKeyStore(StoreTypePEM, data, nil)
		require.NoError(t, err)

		got, err := ks.Entry("vendor", nil)
		require.NoError(t, err)
		require.NotNil(t, got.PrivateKey)
		assert.Equal(t, entry.Certificate.Raw, got.Certificate.Raw)
	})

	t.Run("encrypted key", func(t *testing.T) {
		data, err := EncodePEM([]*Entry{entry}, true, []byte("keypass1"))
		require.NoError(t, err)
		ks, err := LoadKeyStore(StoreTypePEM, data, nil)
		require.NoError(t, err)

		_, err = ks.Entry("vendor", []byte("wrongpass"))
		assert.Error(t, err)
		got, err := ks.Entry("vendor", []byte("keypass1"))
		require.NoError(t, err)
		assert.NotNil(t, got.PrivateKey)
	})

	t.Run("certificate only", func(t *testing.T) {
		data, err := EncodePEM([]*Entry{entry}, false, nil)
		require.NoError(t, err)
		ks, err := LoadKeyStore(StoreTypePEM, data, nil)
		require.NoError(t, err)
		got, err := ks.Entry("vendor", nil)
		require.NoError(t, err)
		assert.Nil(t, got.PrivateKey)
	})
}

func TestSignatures(t *testing.T) {
	tests := []struct {
		keyType   string
		algorithm string
	}{
		{KeyTypeEC, SHA256withECDSA},
		{KeyTypeEC, SHA512withECDSA},
		{KeyTypeRSA, SHA256withRSA},
		{KeyTypeRSA, SHA384withRSAPSS},
		{KeyTypeEd25519, Ed25519},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			entry, err := GenerateEntry("k", tt.keyType, "Signer", time.Hour)
			require.NoError(t, err)

			s, err := NewSigner(tt.algorithm, entry.PrivateKey)
			require.NoError(t, err)
			assert.Equal(t, tt.algorithm, s.Algorithm())
			v, err := NewVerifier(tt.algorithm, entry.Certificate.PublicKey)
			require.NoError(t, err)

			data := []byte("license key payload")
			sig, err := s.Sign(data)
			require.NoError(t, err)
			assert.NoError(t, v.Verify(data, sig))

			assert.ErrorIs(t, v.Verify([]byte("tampered payload"), sig), ErrSignatureMismatch)
			sig[len(sig)-1] ^= 0xff
			assert.ErrorIs(t, v.Verify(data, sig), ErrSignatureMismatch)
		})
	}
}

func TestSignatureKeyMismatch(t *testing.T) {
	entry, err := GenerateEntry("k", KeyTypeEC, "Signer", time.Hour)
	require.NoError(t, err)

	_, err = NewSigner(SHA256withRSA, entry.PrivateKey)
	assert.Error(t, err)
	_, err = NewVerifier(Ed25519, entry.Certificate.PublicKey)
	assert.Error(t, err)
	_, err = NewSigner("MD5withRSA", entry.PrivateKey)
	assert.Error(t, err)

	assert.Contains(t, Algorithms(), SHA256withECDSA)
	assert.Contains(t, Algorithms(), Ed25519)
}
