package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Cyxzhar/quickdrop/internal/metrics"
	"github.com/Cyxzhar/quickdrop/internal/storage"
	"github.com/Cyxzhar/quickdrop/internal/upload"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	srv     *Server
	store   *storage.Memory
	clock   *testClock
	uploads *upload.Pipeline
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	clock := &testClock{t: testEpoch}
	store := storage.NewMemory(clock.Now)
	pipe := upload.New(store, "https://drop.example",
		upload.WithClock(clock.Now),
		upload.WithCollisionCheck(store))

	cfg := Config{
		PublicURL: "https://drop.example",
		Store:     store,
		Uploads:   pipe,
		Metrics:   metrics.New(),
		Now:       clock.Now,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	srv := New(cfg)
	t.Cleanup(srv.limiter.stop)
	return &fixture{srv: srv, store: store, clock: clock, uploads: pipe}
}

func (f *fixture) put(t *testing.T, key string, data []byte, contentType string, meta storage.Meta) {
	t.Helper()
	if meta == nil {
		meta = storage.Meta{}
	}
	err := f.store.Put(context.Background(), storage.PutInput{Key: key, Data: data, ContentType: contentType, Meta: meta})
	if err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func (f *fixture) get(t *testing.T, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return f.do(t, req)
}

// expiresIn builds metadata for an object uploaded now that lives for ttl.
func expiresIn(now time.Time, ttl time.Duration) storage.Meta {
	m := storage.Meta{}
	m.SetTime(storage.MetaUploadedAt, now)
	m.SetTime(storage.MetaExpiresAt, now.Add(ttl))
	return m
}

// countingStore records every call that reaches storage.
type countingStore struct {
	storage.Store
	mu    sync.Mutex
	calls int
}

func (c *countingStore) count() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingStore) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	c.count()
	return c.Store.Stat(ctx, key)
}

func (c *countingStore) Get(ctx context.Context, key string) (*storage.Object, error) {
	c.count()
	return c.Store.Get(ctx, key)
}

// errStore fails every read with err.
type errStore struct {
	storage.Store
	err error
}

func (e errStore) Stat(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, e.err
}

func (e errStore) Get(context.Context, string) (*storage.Object, error) { return nil, e.err }

func (e errStore) Ping(context.Context) error { return e.err }
