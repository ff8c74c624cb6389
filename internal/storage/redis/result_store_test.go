package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/storage"
)

type fakeClient struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	setErr  error
	pingErr error
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestPutAndGetRoundTrip(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	s := NewWithClient(fc, Config{Prefix: "sessions", TTL: time.Hour})
	ctx := context.Background()
	records := []crawler.PatentRecord{{PatentID: "US1A1", Title: "Cooling plate"}}

	require.NoError(t, s.PutResults(ctx, "default", records))
	require.Contains(t, fc.data, "sessions:default")
	require.Equal(t, time.Hour, fc.ttls["sessions:default"])

	got, err := s.GetResults(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, records, got)

	require.NoError(t, s.PutResults(ctx, "default", nil))
	got, err = s.GetResults(ctx, "default")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestGetMissingSession(t *testing.T) {
	t.Parallel()

	s := NewWithClient(newFakeClient(), Config{})
	_, err := s.GetResults(context.Background(), "nobody")
	require.ErrorIs(t, err, crawler.ErrSessionNotFound)
}

func TestInvalidKeysAreRejected(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	s := NewWithClient(fc, Config{})
	require.ErrorIs(t, s.PutResults(context.Background(), "a b", nil), storage.ErrInvalidKey)
	_, err := s.GetResults(context.Background(), "")
	require.ErrorIs(t, err, storage.ErrInvalidKey)
	require.Empty(t, fc.data)
}

func TestErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.setErr = errors.New("READONLY replica")
	fc.pingErr = errors.New("connection refused")
	s := NewWithClient(fc, Config{})

	require.ErrorContains(t, s.PutResults(context.Background(), "k", nil), "READONLY replica")
	require.ErrorContains(t, s.Ping(context.Background()), "connection refused")
	require.NoError(t, s.Close())
	require.True(t, fc.closed)
}

func TestNewRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "addr is required")
}
