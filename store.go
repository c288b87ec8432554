package snowlease

import (
	"context"
	"fmt"
	"time"
)

// Store is the coordination backend that arbitrates slot ownership. It is the
// single source of truth: a process must never trust its local copy of a
// lease beyond the next renewal deadline.
//
// All three operations are conditional writes and the store must enforce the
// condition atomically:
//
//   - Acquire succeeds only if the slot has no live lease, and installs the
//     token with the given TTL.
//   - Renew succeeds only if the slot's current token matches, and resets the
//     TTL.
//   - Release succeeds only if the slot's current token matches, and deletes
//     the lease.
//
// The boolean reports whether the conditional write applied; an error means
// the store could not be reached or answered abnormally.
type Store interface {
	Acquire(ctx context.Context, slot int, token string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, slot int, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, slot int, token string) (bool, error)
}

// LeaseKey returns the canonical key under which a slot's lease is stored.
// Store implementations that address records by string key should use it so
// deployments can mix backends without re-partitioning the namespace.
func LeaseKey(slot int) string {
	return fmt.Sprintf("worker-lease:%d", slot)
}
