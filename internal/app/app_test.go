package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/config"
	lerrors "github.com/christian-schlichtherle/truelicense-sub000/internal/errors"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/license"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
)

const vendorKeyStore = "../security/testdata/vendor.p12"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a valid configuration with in-memory stores
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.License.Subject = "Acme 1.X"
	cfg.Store = config.StoreConfig{Kind: "memory", Key: "license"}
	cfg.Keystore = config.KeystoreConfig{
		Path:     vendorKeyStore,
		Type:     "pkcs12",
		Alias:    "mykey",
		Password: "test1234",
	}
	cfg.Encryption.Password = "secret12"
	cfg.Encryption.ScryptN = 1024
	cfg.Trial.Store = config.StoreConfig{Kind: "memory", Key: "trial"}
	cfg.Trial.Keystore = cfg.Keystore
	return cfg
}

func withTrial(cfg *config.Config) *config.Config {
	cfg.Trial.Days = 30
	return cfg
}

// generateKey signs a one-year license for the configured subject
func generateKey(t *testing.T, m *Managers) []byte {
	t.Helper()
	l := license.New()
	l.Holder = "CN=Customer Inc."
	l.NotAfter = time.Now().AddDate(1, 0, 0)
	g, err := m.Vendor.GenerateKeyFrom(context.Background(), l)
	require.NoError(t, err)
	key := store.NewMemoryStore()
	_, err = g.SaveTo(context.Background(), key)
	require.NoError(t, err)
	return key.Content()
}

func newTestApplication(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	require.NoError(t, cfg.Validate())
	a, err := NewApplicationWithConfig(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, a.Managers.Close())
		assert.NoError(t, a.OTelProviders.Shutdown(context.Background()))
	})
	return a
}

func TestNewManagers(t *testing.T) {
	tests := []struct {
		name    string
		cfg     func() *config.Config
		chained bool
		wantErr string
	}{
		{name: "consumer only", cfg: testConfig},
		{name: "with trial", cfg: func() *config.Config { return withTrial(testConfig()) }, chained: true},
		{
			name: "trial with own encryption",
			cfg: func() *config.Config {
				cfg := withTrial(testConfig())
				cfg.Trial.Encryption.Password = "trial123"
				return cfg
			},
			chained: true,
		},
		{
			name: "unknown store kind",
			cfg: func() *config.Config {
				cfg := testConfig()
				cfg.Store.Kind = "etcd"
				return cfg
			},
			wantErr: "unsupported store kind",
		},
		{
			name: "weak scrypt parameters",
			cfg: func() *config.Config {
				cfg := testConfig()
				cfg.Encryption.ScryptN = 1000
				return cfg
			},
			wantErr: "failed to create encryption",
		},
		{
			name: "missing alias",
			cfg: func() *config.Config {
				cfg := testConfig()
				cfg.Keystore.Alias = ""
				return cfg
			},
			wantErr: "failed to create notary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManagers(tt.cfg(), testLogger(), nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer m.Close()

			assert.Equal(t, "Acme 1.X", m.Consumer.Subject())
			_, isChained := m.Consumer.(*license.ChainedManager)
			assert.Equal(t, tt.chained, isChained)
		})
	}
}

func TestManagersRoundTrip(t *testing.T) {
	m, err := NewManagers(testConfig(), testLogger(), nil)
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.Consumer.Install(ctx, store.NewMemoryStoreWith(generateKey(t, m))))
	l, err := m.Consumer.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.DN("CN=Customer Inc."), l.Holder)
	assert.NoError(t, m.Consumer.Verify(ctx))
}

func TestPasswordPolicyAppliesToWriting(t *testing.T) {
	cfg := testConfig()
	cfg.Encryption.Password = "weak"
	m, err := NewManagers(cfg, testLogger(), nil)
	require.NoError(t, err)
	defer m.Close()

	l := license.New()
	l.Holder = "CN=Customer Inc."
	g, err := m.Vendor.GenerateKeyFrom(context.Background(), l)
	require.NoError(t, err)
	_, err = g.SaveTo(context.Background(), store.NewMemoryStore())
	assert.Error(t, err)

	cfg.License.PasswordPolicy = "none"
	lax, err := NewManagers(cfg, testLogger(), nil)
	require.NoError(t, err)
	defer lax.Close()
	assert.NotEmpty(t, generateKey(t, lax))
}

func TestBadgerDatabaseIsShared(t *testing.T) {
	cfg := withTrial(testConfig())
	cfg.Store = config.StoreConfig{Kind: "badger", Key: "license"}
	cfg.Trial.Store = config.StoreConfig{Kind: "badger", Key: "trial"}

	m, err := NewManagers(cfg, testLogger(), nil)
	require.NoError(t, err)
	assert.Len(t, m.badgerDBs, 1)
	assert.Len(t, m.closers, 1)

	ctx := context.Background()
	l, err := m.Consumer.Load(ctx)
	require.NoError(t, err, "a trial license is generated into the badger store")
	assert.Equal(t, "Acme 1.X", l.Subject)

	exists, err := m.Store.Exists()
	require.NoError(t, err)
	assert.False(t, exists, "the trial key lives under its own key")

	assert.NoError(t, m.Close())
	assert.Empty(t, m.closers)
}

func TestApplicationRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "prometheus"
	a := newTestApplication(t, cfg)

	do := func(method, target string, body []byte) *httptest.ResponseRecorder {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req := httptest.NewRequest(method, target, r)
		rec := httptest.NewRecorder()
		a.Router.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodGet, "/license", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(http.MethodPost, "/license", generateKey(t, a.Managers))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/license", rec.Header().Get("Location"))

	rec = do(http.MethodGet, "/license?verify=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "CN=Customer Inc.", body["holder"])

	rec = do(http.MethodPost, "/license", []byte("garbage"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, lerrors.PublicMessage(lerrors.Authentication(nil)), body["error"])

	rec = do(http.MethodDelete, "/license", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(http.MethodDelete, "/license", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "license_operations_total")
}

func TestApplicationServesTrial(t *testing.T) {
	a := newTestApplication(t, withTrial(testConfig()))

	req := httptest.NewRequest(http.MethodGet, "/license?verify=true", nil)
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Acme 1.X", body["subject"])
	assert.Equal(t, "CN=unknown", body["holder"])

	// metrics are not exported in the default telemetry configuration
	rec = httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApplicationStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	a := newTestApplication(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx, cancel))
	assert.NoError(t, a.Stop(context.Background()))
}
