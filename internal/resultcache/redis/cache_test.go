package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	expiry  map[string]time.Duration
	deleted []string
	getErr  error
	delErr  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, expiry: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	default:
		return redis.NewStatusResult("", errors.New("unsupported value"))
	}
	f.expiry[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return redis.NewIntResult(0, f.delErr)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
		f.deleted = append(f.deleted, k)
	}
	return redis.NewIntResult(n, nil)
}

func TestCacheRoundTripWithinTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	client := newFakeRedis()
	cache := New(client, Config{}, clock, nil)
	ctx := context.Background()

	rating := 4.5
	require.NoError(t, cache.Put(ctx, "u1", []tracker.RawListing{
		{Title: "Widget X", PriceText: "$75.00", Rating: &rating, Link: "https://shop.example/x"},
	}))
	require.Equal(t, 31*time.Minute, client.expiry["pricewatch:results:u1"])

	clock.Advance(29 * time.Minute)
	got, ok, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	require.Equal(t, "Widget X", got[0].Title)
	require.Equal(t, 4.5, *got[0].Rating)
}

func TestCacheEvictsStaleEntry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	client := newFakeRedis()
	cache := New(client, Config{Prefix: "test:"}, clock, nil)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "u1", []tracker.RawListing{{Title: "Widget X"}}))
	clock.Advance(31 * time.Minute)

	got, ok, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, got)
	require.Equal(t, []string{"test:u1"}, client.deleted)
}

func TestCacheStaleEntryIsMissWhenDeleteFails(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	client := newFakeRedis()
	client.delErr = errors.New("READONLY replica")
	core, logs := observer.New(zap.WarnLevel)
	cache := New(client, Config{}, clock, zap.New(core))
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "u1", []tracker.RawListing{{Title: "Widget X"}}))
	clock.Advance(31 * time.Minute)

	got, ok, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, got)
	require.Equal(t, 1, logs.FilterMessage("evict stale results failed").Len())
}

func TestCacheMissAndError(t *testing.T) {
	t.Parallel()

	client := newFakeRedis()
	cache := New(client, Config{}, &fakeClock{now: time.Now()}, nil)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "nobody")
	require.NoError(t, err)
	require.False(t, ok)

	client.getErr = errors.New("connection refused")
	_, _, err = cache.Get(ctx, "nobody")
	require.ErrorContains(t, err, "connection refused")
}

func TestNewClientRequiresAddress(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), Config{})
	require.Error(t, err)
}
