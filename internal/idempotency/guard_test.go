package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRedis is an in-memory Client. TTLs are recorded, not enforced.
type memRedis struct {
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memRedis) SetNX(_ context.Context, key string, value any, exp time.Duration) *redis.BoolCmd {
	if m.err != nil {
		return redis.NewBoolResult(false, m.err)
	}
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key], m.ttls[key] = value.(string), exp
	return redis.NewBoolResult(true, nil)
}

func (m *memRedis) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	m.data[key], m.ttls[key] = value.(string), exp
	return redis.NewStatusResult("OK", nil)
}

func (m *memRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestGuard_Run(t *testing.T) {
	rdb := newMemRedis()
	g := NewGuard(rdb, time.Hour, nil)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		return "created 2 of 2 ads, 0 failed", nil
	}

	require.NoError(t, g.Run(ctx, "k1", fn))
	assert.Equal(t, time.Hour, rdb.ttls[keyPrefix+"k1"])

	err := g.Run(ctx, "k1", fn)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, StateDone, dup.Record.State)
	assert.Equal(t, "created 2 of 2 ads, 0 failed", dup.Record.Summary)
	assert.Equal(t, 1, calls)
}

func TestGuard_RunFailureReleases(t *testing.T) {
	rdb := newMemRedis()
	g := NewGuard(rdb, time.Hour, nil)
	ctx := context.Background()

	boom := errors.New("boom")
	err := g.Run(ctx, "k1", func(context.Context) (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)

	_, held, err := g.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, g.Run(ctx, "k1", func(context.Context) (string, error) { return "ok", nil }))
}

func TestGuard_RunningKeyIsDuplicate(t *testing.T) {
	g := NewGuard(newMemRedis(), time.Minute, nil)
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)

	err = g.Run(ctx, "k1", func(context.Context) (string, error) {
		t.Fatal("must not run")
		return "", nil
	})
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, StateRunning, dup.Record.State)
	assert.Contains(t, dup.Error(), "already running")
}

func TestGuard_AcquireError(t *testing.T) {
	rdb := newMemRedis()
	rdb.err = errors.New("connection refused")
	g := NewGuard(rdb, time.Minute, nil)

	err := g.Run(context.Background(), "k1", func(context.Context) (string, error) { return "", nil })
	assert.ErrorContains(t, err, "connection refused")
}

func TestConnect(t *testing.T) {
	c, err := Connect("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)

	c, err = Connect("cache:6379")
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", c.Options().Addr)

	_, err = Connect("redis://[::1")
	assert.Error(t, err)
}
