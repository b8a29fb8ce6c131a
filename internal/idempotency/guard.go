// Package idempotency guards repeated provisioning requests with Redis keys.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/adpipe/internal/logging"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "adpipe:op:"

// State of a guarded operation.
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
)

// Client is the subset of *redis.Client the guard uses.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Record is what the guard keeps per key.
type Record struct {
	State   State     `json:"state"`
	Summary string    `json:"summary,omitempty"`
	At      time.Time `json:"at"`
}

// DuplicateError is returned by Run when the key is already held.
type DuplicateError struct {
	Key    string
	Record Record
}

func (e *DuplicateError) Error() string {
	if e.Record.Summary != "" {
		return fmt.Sprintf("operation %s already %s: %s", e.Key, e.Record.State, e.Record.Summary)
	}
	return fmt.Sprintf("operation %s already %s", e.Key, e.Record.State)
}

type Guard struct {
	rdb Client
	ttl time.Duration
	log logging.Logger
	now func() time.Time
}

func NewGuard(rdb Client, ttl time.Duration, log logging.Logger) *Guard {
	return &Guard{rdb: rdb, ttl: ttl, log: logging.OrNop(log), now: time.Now}
}

// Connect accepts a redis:// URL or a plain host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func (g *Guard) encode(r Record) (string, error) {
	raw, err := json.Marshal(r)
	return string(raw), err
}

// Acquire marks key as running. It reports false when the key is held.
func (g *Guard) Acquire(ctx context.Context, key string) (bool, error) {
	val, err := g.encode(Record{State: StateRunning, At: g.now().UTC()})
	if err != nil {
		return false, err
	}
	ok, err := g.rdb.SetNX(ctx, keyPrefix+key, val, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

// Complete records a finished operation; the key stays held until the TTL.
func (g *Guard) Complete(ctx context.Context, key, summary string) error {
	val, err := g.encode(Record{State: StateDone, Summary: summary, At: g.now().UTC()})
	if err != nil {
		return err
	}
	if err := g.rdb.Set(ctx, keyPrefix+key, val, g.ttl).Err(); err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	return nil
}

// Release frees key so the operation can be attempted again.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Lookup returns the record held for key, if any.
func (g *Guard) Lookup(ctx context.Context, key string) (Record, bool, error) {
	raw, err := g.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup %s: %w", key, err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return r, true, nil
}

// Run executes fn unless key is held. A failed fn releases the key; a
// successful one records its summary.
func (g *Guard) Run(ctx context.Context, key string, fn func(ctx context.Context) (string, error)) error {
	ok, err := g.Acquire(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		rec, _, err := g.Lookup(ctx, key)
		if err != nil {
			g.log.Warn(ctx, "failed to read held operation", "key", key, "error", err)
		}
		return &DuplicateError{Key: key, Record: rec}
	}

	summary, err := fn(ctx)
	if err != nil {
		if rerr := g.Release(context.WithoutCancel(ctx), key); rerr != nil {
			g.log.Error(ctx, "failed to release operation key", "key", key, "error", rerr)
		}
		return err
	}
	if err := g.Complete(ctx, key, summary); err != nil {
		g.log.Error(ctx, "failed to record finished operation", "key", key, "error", err)
	}
	return nil
}
