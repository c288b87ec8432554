package snowlease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// leaseManager obtains and keeps alive exactly one worker slot for the
// process's lifetime. It never interprets the store's answers optimistically:
// any conditional write that does not apply means the slot is not ours.
type leaseManager struct {
	store   Store
	options options
}

func newLeaseManager(store Store, opts options) *leaseManager {
	return &leaseManager{
		store:   store,
		options: opts,
	}
}

// acquire scans the slot space for a free slot, starting at this instance's
// hashed offset and wrapping around. The scan is repeated with backoff up to
// the configured retry budget; a full slot space after the last scan is
// ErrSlotsExhausted.
func (m *leaseManager) acquire(ctx context.Context) (*Lease, error) {
	for attempt := range m.options.acquireRetries {
		var lease, err = m.scan(ctx)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, ErrSlotsExhausted) {
			return nil, err
		}

		if attempt >= m.options.acquireRetries-1 {
			break
		}

		m.options.logger.Warn("all worker slots leased, backing off before rescan",
			"attempt", attempt+1,
			"max_attempts", m.options.acquireRetries)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.options.acquireBackoff):
		}
	}

	return nil, fmt.Errorf("no free slot in %d candidates after %d scans: %w",
		m.options.maxSlots, m.options.acquireRetries, ErrSlotsExhausted)
}

// scan attempts one pass over every candidate slot.
func (m *leaseManager) scan(ctx context.Context) (*Lease, error) {
	var (
		token = uuid.New().String()
		start = hashStartSlot(m.options.instanceID, m.options.maxSlots)
	)

	for i := range m.options.maxSlots {
		var slot = (start + i) % m.options.maxSlots

		var opCtx, cancel = context.WithTimeout(ctx, m.options.storeTimeout)
		acquired, err := m.store.Acquire(opCtx, slot, token, m.options.leaseTTL)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire slot %d: %w: %w", slot, ErrStoreUnavailable, err)
		}

		if acquired {
			return &Lease{
				Slot:      slot,
				Token:     token,
				ExpiresAt: m.options.clock.Now().Add(m.options.leaseTTL),
			}, nil
		}
	}

	return nil, ErrSlotsExhausted
}

// renew extends the lease by one TTL. The store checks the owner token, so a
// lease that expired and was handed to another process comes back as
// ErrLeaseLost, never as a silent double-grant.
func (m *leaseManager) renew(ctx context.Context, lease *Lease) (*Lease, error) {
	var opCtx, cancel = context.WithTimeout(ctx, m.options.storeTimeout)
	defer cancel()

	renewed, err := m.store.Renew(opCtx, lease.Slot, lease.Token, m.options.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to renew slot %d: %w: %w", lease.Slot, ErrStoreUnavailable, err)
	}
	if !renewed {
		return nil, fmt.Errorf("slot %d is no longer held by this process: %w", lease.Slot, ErrLeaseLost)
	}

	return &Lease{
		Slot:      lease.Slot,
		Token:     lease.Token,
		ExpiresAt: m.options.clock.Now().Add(m.options.leaseTTL),
	}, nil
}

// release returns the slot to the pool on clean shutdown. Best-effort: a
// crash path simply lets the TTL expire store-side.
func (m *leaseManager) release(ctx context.Context, lease *Lease) error {
	var opCtx, cancel = context.WithTimeout(ctx, m.options.storeTimeout)
	defer cancel()

	released, err := m.store.Release(opCtx, lease.Slot, lease.Token)
	if err != nil {
		return fmt.Errorf("failed to release slot %d: %w", lease.Slot, err)
	}
	if !released {
		// Already expired or taken over; nothing left to free.
		m.options.logger.Warn("lease already gone at release", "slot", lease.Slot)
	}

	return nil
}
