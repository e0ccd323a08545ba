package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/id"
)

// ──────────────────────────────────────────────────
// In-memory revocation set
// ──────────────────────────────────────────────────

// MemoryRevocations is a single-process RevocationSet. Entries expire
// with their tokens and are pruned on read.
type MemoryRevocations struct {
	mu      sync.Mutex
	entries map[string]time.Time // token ID -> revocation expiry
	now     func() time.Time
}

// NewMemoryRevocations creates an empty in-memory revocation set.
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke marks tokenID revoked until ttl elapses.
func (m *MemoryRevocations) Revoke(_ context.Context, tokenID id.TokenID, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[tokenID.String()] = m.now().Add(ttl)
	return nil
}

// IsRevoked reports whether tokenID is currently revoked.
func (m *MemoryRevocations) IsRevoked(_ context.Context, tokenID id.TokenID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.entries[tokenID.String()]
	if !ok {
		return false, nil
	}
	if m.now().After(until) {
		delete(m.entries, tokenID.String())
		return false, nil
	}
	return true, nil
}

// ──────────────────────────────────────────────────
// Redis revocation set
// ──────────────────────────────────────────────────

const redisRevocationPrefix = "syncline:revoked:"

// RedisRevocations is a RevocationSet shared across instances. Each
// revocation is one key with the token's remaining lifetime as TTL, so
// the set cleans itself up.
type RedisRevocations struct {
	client *redis.Client
}

// NewRedisRevocations creates a revocation set over a Redis client.
func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client}
}

// Revoke marks tokenID revoked until ttl elapses.
func (r *RedisRevocations) Revoke(ctx context.Context, tokenID id.TokenID, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := redisRevocationPrefix + tokenID.String()
	if err := r.client.Set(ctx, key, 1, ttl).Err(); err != nil {
		return syncline.E(syncline.KindConnection, "auth.revoke", err)
	}
	return nil
}

// IsRevoked reports whether tokenID is currently revoked.
func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID id.TokenID) (bool, error) {
	key := redisRevocationPrefix + tokenID.String()
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, syncline.E(syncline.KindConnection, "auth.is_revoked", err)
	}
	return n > 0, nil
}

var (
	_ RevocationSet = (*MemoryRevocations)(nil)
	_ RevocationSet = (*RedisRevocations)(nil)
)
