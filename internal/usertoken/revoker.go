package usertoken

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker remembers signed-out tokens until they would have expired anyway.
type Revoker interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// MemoryRevoker keeps revoked tokens in-process (single instance only).
type MemoryRevoker struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

// NewMemoryRevoker builds an in-memory revoker.
func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{tokens: make(map[string]time.Time), now: time.Now}
}

// Revoke marks token as revoked for ttl. A non-positive ttl is a no-op: the
// token has already expired.
func (r *MemoryRevoker) Revoke(_ context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.tokens[tokenDigest(token)] = r.now().Add(ttl)
	r.mu.Unlock()
	return nil
}

// IsRevoked reports whether token was revoked and the revocation is still live.
func (r *MemoryRevoker) IsRevoked(_ context.Context, token string) (bool, error) {
	key := tokenDigest(token)
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[key]
	if !ok {
		return false, nil
	}
	if r.now().After(expiry) {
		delete(r.tokens, key)
		return false, nil
	}
	return true, nil
}

// RedisRevoker stores revocations in Redis with a TTL so every instance sees
// them.
type RedisRevoker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRevoker builds a Redis-backed revoker.
func NewRedisRevoker(client redis.UniversalClient, prefix string) *RedisRevoker {
	if prefix == "" {
		prefix = "wallpapers:revoked"
	}
	return &RedisRevoker{client: client, prefix: prefix}
}

func (r *RedisRevoker) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.key(token), "1", ttl).Err()
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRevoker) key(token string) string {
	return r.prefix + ":" + tokenDigest(token)
}

// tokenDigest keeps raw bearer tokens out of memory maps and Redis keys.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
