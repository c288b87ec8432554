package snowlease

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// coordinator orchestrates the service lifecycle and background workers.
type coordinator struct {
	service *Service
	manager *leaseManager
	emitter *emitter
	options options
	cancel  context.CancelFunc
}

func newCoordinator(service *Service, manager *leaseManager, emitter *emitter, opts options) *coordinator {
	return &coordinator{
		service: service,
		manager: manager,
		emitter: emitter,
		options: opts,
	}
}

// start acquires a slot and launches the background workers.
//
// Context handling: The caller's context bounds the acquisition phase.
// Background workers run with a separate context.Background() so they keep
// renewing independently of the caller's context; they are stopped via the
// internal cancel function when stop() is called.
func (c *coordinator) start(ctx context.Context) error {
	var lease, err = c.manager.acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrSlotsExhausted) {
			c.options.metrics.acquireResult("exhausted")
			// The drain goroutine is not running yet, deliver synchronously.
			c.emitter.sendNow(ctx, Event{Type: EventSlotsExhausted, Slot: -1, At: c.options.clock.Now()})
		} else {
			c.options.metrics.acquireResult("error")
		}
		return err
	}

	c.options.metrics.acquireResult("success")
	c.options.metrics.heldSlot(lease.Slot)
	c.service.storeLease(lease)

	var workerCtx context.Context
	workerCtx, c.cancel = context.WithCancel(context.Background())

	if c.emitter != nil {
		go c.emitter.run(workerCtx)
	}
	go c.renewLeaseWorker(workerCtx)

	c.emitter.emit(Event{Type: EventLeaseAcquired, Slot: lease.Slot, At: c.options.clock.Now()})
	c.options.logger.Info("acquired worker slot",
		"slot", lease.Slot,
		"lease_ttl", c.options.leaseTTL,
		"renew_interval", c.options.renewInterval)

	return nil
}

// stop cancels the background workers and releases the slot. Cancelling
// before releasing is safe: a renewal racing with the release no-ops inside
// the store's conditional check, not through client-side sequencing.
func (c *coordinator) stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	var lease = c.service.currentLease()
	if lease == nil {
		return nil
	}

	if err := c.manager.release(ctx, lease); err != nil {
		return fmt.Errorf("failed to release slot on shutdown: %w", err)
	}

	c.options.metrics.heldSlot(-1)
	c.options.logger.Info("released worker slot", "slot", lease.Slot)
	return nil
}

// renewLeaseWorker periodically renews this process's lease. On lease loss it
// pauses minting immediately and runs the bounded reacquisition policy.
func (c *coordinator) renewLeaseWorker(ctx context.Context) {
	var ticker = time.NewTicker(c.options.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.renewWithRetry(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.handleLeaseLost(ctx)
				if c.service.State() == StateFailed {
					return
				}
			}
		}
	}
}

// renewWithRetry performs one renewal, retrying transient store failures with
// exponential backoff for as long as the lease still has TTL margin left.
// Exhausting the margin is indistinguishable from expiry and is treated as
// lease loss.
func (c *coordinator) renewWithRetry(ctx context.Context) error {
	var (
		lease   = c.service.currentLease()
		backoff = c.options.renewBackoff
	)
	if lease == nil {
		return ErrLeaseLost
	}

	// Stop retrying shortly before the lease expires so we never renew a key
	// that another process may already own.
	var deadline = lease.ExpiresAt.Add(-c.options.storeTimeout)

	for {
		var renewed, err = c.manager.renew(ctx, lease)
		if err == nil {
			c.service.storeLease(renewed)
			c.options.metrics.renewResult("success")
			c.emitter.emit(Event{Type: EventLeaseRenewed, Slot: renewed.Slot, At: c.options.clock.Now()})
			return nil
		}

		if errors.Is(err, ErrLeaseLost) {
			c.options.metrics.renewResult("lost")
			return err
		}

		c.options.metrics.renewResult("unavailable")
		c.options.logger.Warn("lease store unavailable during renewal",
			"slot", lease.Slot,
			"retry_in", backoff,
			"error", err)

		if c.options.clock.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("store unreachable until lease expiry: %w", ErrLeaseLost)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.options.renewInterval {
			backoff = c.options.renewInterval
		}
	}
}

// handleLeaseLost transitions the service out of READY and attempts to
// acquire a fresh slot a bounded number of times. Minting stays paused for
// the whole window; continuing under a slot we no longer provably own would
// corrupt the uniqueness guarantee.
func (c *coordinator) handleLeaseLost(ctx context.Context) {
	var lost = c.service.currentLease()
	c.service.markLeaseLost()
	c.options.metrics.leaseLost()
	c.options.metrics.heldSlot(-1)

	var lostSlot = -1
	if lost != nil {
		lostSlot = lost.Slot
	}
	c.emitter.emit(Event{Type: EventLeaseLost, Slot: lostSlot, At: c.options.clock.Now()})
	c.options.logger.Warn("worker lease lost, minting paused", "slot", lostSlot)

	for attempt := range c.options.reacquireAttempts {
		if ctx.Err() != nil {
			return
		}

		var lease, err = c.manager.acquire(ctx)
		if err == nil {
			c.service.storeLease(lease)
			if !c.service.markReady() {
				// Stop won the race while the acquire was in flight. Free the
				// slot now instead of leaving it held until TTL expiry.
				_ = c.manager.release(context.WithoutCancel(ctx), lease)
				c.service.storeLease(nil)
				return
			}
			c.options.metrics.acquireResult("success")
			c.options.metrics.heldSlot(lease.Slot)
			c.emitter.emit(Event{Type: EventLeaseReacquired, Slot: lease.Slot, At: c.options.clock.Now()})
			c.options.logger.Info("reacquired worker slot", "slot", lease.Slot, "attempt", attempt+1)
			return
		}

		c.options.logger.Warn("failed to reacquire worker slot",
			"attempt", attempt+1,
			"max_attempts", c.options.reacquireAttempts,
			"error", err)

		if attempt >= c.options.reacquireAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.options.reacquireBackoff):
		}
	}

	c.service.markFailed()
	c.options.logger.Error("reacquisition budget exhausted, service failed")
}
