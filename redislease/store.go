// Package redislease implements the lease store protocol on Redis. Acquire
// maps to SET NX PX; renew and release run small Lua scripts so the
// token check and the expiry update happen in one atomic step server-side.
package redislease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript extends a lease iff it is still held by the same token.
// KEYS[1]: lease key, ARGV[1]: expected token, ARGV[2]: TTL in milliseconds.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[2]))
    return 1
end
return 0
`)

// releaseScript deletes a lease iff it is still held by the same token.
// KEYS[1]: lease key, ARGV[1]: expected token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    redis.call("DEL", KEYS[1])
    return 1
end
return 0
`)

// Store is a Redis-backed lease store.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides the key prefix, letting multiple independent slot
// spaces share one Redis. DEFAULT: "worker-lease:"
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// New creates a Store on top of an existing Redis client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	var store = &Store{
		client:    client,
		keyPrefix: "worker-lease:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(slot int) string {
	return fmt.Sprintf("%s%d", s.keyPrefix, slot)
}

// Acquire installs the token on the slot's key iff the key is absent.
func (s *Store) Acquire(ctx context.Context, slot int, token string, ttl time.Duration) (bool, error) {
	var acquired, err = s.client.SetNX(ctx, s.key(slot), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease key %s: %w", s.key(slot), err)
	}
	return acquired, nil
}

// Renew resets the key's TTL iff it still holds the token.
func (s *Store) Renew(ctx context.Context, slot int, token string, ttl time.Duration) (bool, error) {
	var result, err = renewScript.Run(ctx, s.client, []string{s.key(slot)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease key %s: %w", s.key(slot), err)
	}
	return result == 1, nil
}

// Release deletes the key iff it still holds the token.
func (s *Store) Release(ctx context.Context, slot int, token string) (bool, error) {
	var result, err = releaseScript.Run(ctx, s.client, []string{s.key(slot)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lease key %s: %w", s.key(slot), err)
	}
	return result == 1, nil
}
