package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard implements Guard with SETNX keys
type RedisGuard struct {
	client *redis.Client
}

// NewRedisGuard creates a new RedisGuard
func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, key, value, ttl).Result()
}

func (g *RedisGuard) Get(ctx context.Context, key string) (string, error) {
	value, err := g.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (g *RedisGuard) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return g.client.Set(ctx, key, value, ttl).Err()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, key).Err()
}

// LocalGuard implements Guard in process memory. It only protects against
// duplicate deliveries inside one dispatcher process.
type LocalGuard struct {
	mu   sync.Mutex
	keys map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	value     string
	expiresAt time.Time
}

// NewLocalGuard creates a new LocalGuard
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{keys: make(map[string]localEntry), now: time.Now}
}

func (g *LocalGuard) Acquire(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.lookup(key); ok {
		return false, nil
	}
	g.keys[key] = localEntry{value: value, expiresAt: g.expiry(ttl)}
	return true, nil
}

func (g *LocalGuard) Get(_ context.Context, key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, _ := g.lookup(key)
	return e.value, nil
}

func (g *LocalGuard) Set(_ context.Context, key, value string, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[key] = localEntry{value: value, expiresAt: g.expiry(ttl)}
	return nil
}

func (g *LocalGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
	return nil
}

// lookup drops expired keys. Callers hold g.mu.
func (g *LocalGuard) lookup(key string) (localEntry, bool) {
	e, ok := g.keys[key]
	if ok && !e.expiresAt.IsZero() && !g.now().Before(e.expiresAt) {
		delete(g.keys, key)
		return localEntry{}, false
	}
	return e, ok
}

func (g *LocalGuard) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return g.now().Add(ttl)
}
