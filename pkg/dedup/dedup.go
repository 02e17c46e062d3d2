// Package dedup filters duplicate event deliveries before they reach the resume
// dispatcher.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 24 * time.Hour

	// minSweepSize is the map size below which expired ids are only dropped on lookup.
	minSweepSize = 1024
)

var ErrInvalidID = errors.New("dedup id is empty")

// Guard records event ids. First reports whether id is seen for the first time and
// marks it as seen. Release forgets id so a redelivery after a failed attempt is
// processed again.
type Guard interface {
	First(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// MemoryGuard keeps ids in process memory. Suitable for the gochannel transport where
// every delivery happens inside one process. Expired ids are swept when the map doubles
// since the last sweep, so each call costs amortised constant time.
type MemoryGuard struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	seen      map[string]time.Time
	sweepSize int
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &MemoryGuard{
		ttl:       ttl,
		now:       time.Now,
		seen:      make(map[string]time.Time),
		sweepSize: minSweepSize,
	}
}

func (g *MemoryGuard) First(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if expires, ok := g.seen[id]; ok && !now.After(expires) {
		return false, nil
	}

	g.seen[id] = now.Add(g.ttl)

	if len(g.seen) >= g.sweepSize {
		g.sweep(now)
	}

	return true, nil
}

func (g *MemoryGuard) sweep(now time.Time) {
	for key, expires := range g.seen {
		if now.After(expires) {
			delete(g.seen, key)
		}
	}

	g.sweepSize = max(2*len(g.seen), minSweepSize)
}

func (g *MemoryGuard) Release(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.seen, id)

	return nil
}

// RedisGuard shares seen ids between workers with SET NX.
type RedisGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisGuard.
type RedisOption func(*RedisGuard)

// WithTTL sets how long an id is remembered. Default is 24 hours.
func WithTTL(ttl time.Duration) RedisOption {
	return func(g *RedisGuard) {
		g.ttl = ttl
	}
}

// WithPrefix sets the key prefix. Default is "flowgate:dedup".
func WithPrefix(prefix string) RedisOption {
	return func(g *RedisGuard) {
		g.prefix = prefix
	}
}

func NewRedisGuard(client redis.UniversalClient, opts ...RedisOption) *RedisGuard {
	guard := &RedisGuard{
		client: client,
		ttl:    defaultTTL,
		prefix: "flowgate:dedup",
	}

	for _, opt := range opts {
		opt(guard)
	}

	return guard
}

func (g *RedisGuard) First(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}

	ok, err := g.client.SetNX(ctx, g.prefix+":"+id, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, id string) error {
	if err := g.client.Del(ctx, g.prefix+":"+id).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}

	return nil
}
