// redis.go -- go-redis client for the revocation deny-list, the login rate
// limiter, and the OAuth state store.
//
// All three are optional: when REDIS_URL is unset the no-op variants below
// take their place. Without Redis, session revocation is eventual (the token
// stays valid until its natural expiry) and login rate limiting is off.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and pings it to verify connectivity.
// Call once at startup; the client's connection pool is shared by every
// struct built on it.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}

// RedisRevocationList is the deny-list of revoked token fingerprints.
// Entries carry a TTL equal to the token's remaining lifetime, so the list
// never grows past the set of still-unexpired revoked tokens.
type RedisRevocationList struct {
	rdb *redis.Client
}

// NewRedisRevocationList wraps a shared Redis client.
func NewRedisRevocationList(rdb *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{rdb}
}

// Revoke marks a token fingerprint as revoked until the token would have
// expired anyway. A ttl <= 0 means the token is already expired; nothing to do.
func (l *RedisRevocationList) Revoke(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := l.rdb.Set(ctx, "revoked:"+fingerprint, "1", ttl).Err(); err != nil {
		return fmt.Errorf("recording revocation: %w", err)
	}
	return nil
}

// IsRevoked reports whether a fingerprint is on the deny-list.
func (l *RedisRevocationList) IsRevoked(ctx context.Context, fingerprint string) (bool, error) {
	n, err := l.rdb.Exists(ctx, "revoked:"+fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return n > 0, nil
}

// CheckHealth pings Redis.
func (l *RedisRevocationList) CheckHealth(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// NoopRevocationList is used when Redis is not configured. Nothing is ever
// revoked early; tokens die only by expiry.
type NoopRevocationList struct{}

func (NoopRevocationList) Revoke(ctx context.Context, fingerprint string, ttl time.Duration) error {
	return nil
}

func (NoopRevocationList) IsRevoked(ctx context.Context, fingerprint string) (bool, error) {
	return false, nil
}

// ErrCacheDisabled is returned by NoopRevocationList.CheckHealth so /health
// can report "disabled" rather than "error".
var ErrCacheDisabled = errors.New("cache disabled")

func (NoopRevocationList) CheckHealth(ctx context.Context) error {
	return ErrCacheDisabled
}

// RedisRateLimiter implements a fixed-window counter with a lockout key.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter wraps a shared Redis client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb}
}

// Allow records one attempt for key and returns ErrRateLimitExceeded if the
// caller is locked out or just crossed the policy threshold. Any other error
// is a Redis failure; callers decide whether to fail open.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	lockKey := "lockout:" + key
	locked, err := rl.rdb.Exists(ctx, lockKey).Result()
	if err != nil {
		return fmt.Errorf("checking lockout: %w", err)
	}
	if locked > 0 {
		return ErrRateLimitExceeded
	}

	countKey := "attempts:" + key
	// INCR + initial EXPIRE in one pipeline; the window starts at the first attempt.
	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, countKey)
	pipe.ExpireNX(ctx, countKey, policy.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}

	if incr.Val() > int64(policy.MaxAttempts) {
		if err := rl.rdb.Set(ctx, lockKey, "1", policy.LockoutTTL).Err(); err != nil {
			return fmt.Errorf("setting lockout: %w", err)
		}
		return ErrRateLimitExceeded
	}
	return nil
}

// NoopRateLimiter is used when Redis is not configured; everything is allowed.
type NoopRateLimiter struct{}

func (NoopRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	return nil
}

// RedisStateStore holds short-lived OAuth state nonces for the Google code
// flow. The stored value is the PKCE code verifier bound to that state.
type RedisStateStore struct {
	rdb *redis.Client
}

// NewRedisStateStore wraps a shared Redis client.
func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb}
}

// PutState stores a state nonce and its code verifier with the given TTL.
func (s *RedisStateStore) PutState(ctx context.Context, state, verifier string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, "oauth_state:"+state, verifier, ttl).Err(); err != nil {
		return fmt.Errorf("storing oauth state: %w", err)
	}
	return nil
}

// ConsumeState atomically reads and deletes a state nonce, returning its code
// verifier. ok is false when the state is unknown, expired, or already used.
func (s *RedisStateStore) ConsumeState(ctx context.Context, state string) (verifier string, ok bool, err error) {
	verifier, err = s.rdb.GetDel(ctx, "oauth_state:"+state).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("consuming oauth state: %w", err)
	}
	return verifier, true, nil
}

// NoopStateStore is used when Redis is not configured. The code-flow
// endpoints refuse to run without a real state store (no CSRF protection
// otherwise), so PutState fails loudly.
type NoopStateStore struct{}

func (NoopStateStore) PutState(ctx context.Context, state, verifier string, ttl time.Duration) error {
	return ErrStateStoreDisabled
}

func (NoopStateStore) ConsumeState(ctx context.Context, state string) (string, bool, error) {
	return "", false, ErrStateStoreDisabled
}
