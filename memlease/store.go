// Package memlease provides an in-memory lease store. It is the backend for
// single-process deployments and for tests that need precise control over
// lease expiry through an injected clock.
package memlease

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall-clock reads so tests can force expiry.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type entry struct {
	token     string
	expiresAt time.Time
}

// Store is an in-memory implementation of the lease store protocol. All
// operations are atomic under one mutex, mirroring the conditional-write
// semantics a real coordination service enforces server-side.
type Store struct {
	mu     sync.Mutex
	leases map[int]entry
	clock  Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for TTL arithmetic. Intended for tests.
func WithClock(clock Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	var store = &Store{
		leases: make(map[int]entry),
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Acquire installs a lease on the slot iff no live lease exists there.
func (s *Store) Acquire(ctx context.Context, slot int, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current, held = s.leases[slot]
	if held && s.clock.Now().Before(current.expiresAt) {
		return false, nil
	}

	s.leases[slot] = entry{
		token:     token,
		expiresAt: s.clock.Now().Add(ttl),
	}
	return true, nil
}

// Renew extends the lease iff the slot's live lease carries the given token.
func (s *Store) Renew(ctx context.Context, slot int, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current, held = s.leases[slot]
	if !held || current.token != token || !s.clock.Now().Before(current.expiresAt) {
		return false, nil
	}

	s.leases[slot] = entry{
		token:     token,
		expiresAt: s.clock.Now().Add(ttl),
	}
	return true, nil
}

// Release deletes the lease iff the slot's lease carries the given token.
func (s *Store) Release(ctx context.Context, slot int, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current, held = s.leases[slot]
	if !held || current.token != token {
		return false, nil
	}

	delete(s.leases, slot)
	return true, nil
}

// Held reports how many slots currently carry a live (unexpired) lease.
func (s *Store) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		now   = s.clock.Now()
		count = 0
	)
	for _, current := range s.leases {
		if now.Before(current.expiresAt) {
			count++
		}
	}
	return count
}

// Expire force-expires the lease on a slot, simulating a crashed owner whose
// TTL ran out. Intended for tests.
func (s *Store) Expire(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current, held = s.leases[slot]
	if !held {
		return
	}

	current.expiresAt = s.clock.Now().Add(-time.Millisecond)
	s.leases[slot] = current
}
