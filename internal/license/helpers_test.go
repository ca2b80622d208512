package license

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/auth"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/codec"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/repository"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/security"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/transform"
)

const testSubject = "Acme 1.X"

var testKDF = transform.KDFParams{N: 1024, R: 8, P: 1}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// testClock is a Clock that tests can move
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Add(d time.Duration) { c.Set(c.Now().Add(d)) }

// countingAuth counts the signature verifications of the wrapped
// authentication
type countingAuth struct {
	auth.Authentication
	verifies atomic.Int32
}

func (a *countingAuth) Verify(c repository.Controller) (repository.Decoder, error) {
	a.verifies.Add(1)
	return a.Authentication.Verify(c)
}

// countingStore counts the writers it creates
type countingStore struct {
	*store.MemoryStore
	creates atomic.Int32
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *countingStore) Create() (io.WriteCloser, error) {
	s.creates.Add(1)
	return s.MemoryStore.Create()
}

// denyAuthorization vetoes the operation named op
type denyAuthorization struct {
	op  string
	err error
}

func (d denyAuthorization) check(op string) error {
	if op == d.op {
		return d.err
	}
	return nil
}

func (d denyAuthorization) ClearGenerate(context.Context) error  { return d.check(OpGenerate) }
func (d denyAuthorization) ClearInstall(context.Context) error   { return d.check(OpInstall) }
func (d denyAuthorization) ClearLoad(context.Context) error      { return d.check(OpLoad) }
func (d denyAuthorization) ClearVerify(context.Context) error    { return d.check(OpVerify) }
func (d denyAuthorization) ClearUninstall(context.Context) error { return d.check(OpUninstall) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixture(t *testing.T, name string) store.Source {
	t.Helper()
	data, err := os.ReadFile("../security/testdata/" + name)
	require.NoError(t, err)
	return store.NewMemoryStoreWith(data)
}

func vendorAuthentication(t *testing.T) auth.Authentication {
	t.Helper()
	n, err := auth.NewNotary(auth.Parameters{
		Source:          fixture(t, "vendor.p12"),
		StoreType:       security.StoreTypePKCS12,
		Alias:           "mykey",
		StoreProtection: security.Password("test1234"),
	})
	require.NoError(t, err)
	return n
}

func consumerAuthentication(t *testing.T) auth.Authentication {
	t.Helper()
	n, err := auth.NewNotary(auth.Parameters{
		Source:          fixture(t, "public.pem"),
		StoreType:       security.StoreTypePEM,
		Alias:           "mykey",
		StoreProtection: security.Password("unused00"),
	})
	require.NoError(t, err)
	return n
}

func testCompression(t *testing.T) transform.Transformation {
	t.Helper()
	c, err := transform.NewCompression(transform.Gzip, 0)
	require.NoError(t, err)
	return c
}

func testEncryption(t *testing.T) transform.Transformation {
	t.Helper()
	e, err := transform.NewEncryption(transform.AES256GCM, security.Password("secret12"), testKDF)
	require.NoError(t, err)
	return e
}

func parameters(t *testing.T, a auth.Authentication, clock Clock) Parameters {
	t.Helper()
	return Parameters{
		Subject:        testSubject,
		Authentication: a,
		Compression:    testCompression(t),
		Encryption:     testEncryption(t),
		Codec:          codec.JSON{},
		Repository:     repository.Basic{},
		Clock:          clock,
		Logger:         quietLogger(),
	}
}

func newVendor(t *testing.T, clock Clock) *VendorManager {
	t.Helper()
	m, err := NewVendorManager(parameters(t, vendorAuthentication(t), clock))
	require.NoError(t, err)
	return m
}

func newConsumer(t *testing.T, a auth.Authentication, clock Clock, s store.Store, period time.Duration) *CachingManager {
	t.Helper()
	m, err := NewConsumerManager(ConsumerParameters{
		Parameters:  parameters(t, a, clock),
		Store:       s,
		CachePeriod: period,
	})
	require.NoError(t, err)
	return m
}

// generateKey generates a key for l at the time of clock into a new store
func generateKey(t *testing.T, clock Clock, l *License) *store.MemoryStore {
	t.Helper()
	key := store.NewMemoryStore()
	g, err := newVendor(t, clock).GenerateKeyFrom(context.Background(), l)
	require.NoError(t, err)
	_, err = g.SaveTo(context.Background(), key)
	require.NoError(t, err)
	return key
}

// acme returns the license of the Acme 1.X scenario
func acme() *License {
	l := New()
	l.Subject = testSubject
	l.ConsumerAmount = 5
	l.Holder = "CN=Customer Inc."
	l.NotBefore = date(2024, time.January, 1)
	l.NotAfter = date(2024, time.December, 31)
	l.Info = "annual subscription"
	return l
}
