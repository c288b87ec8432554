package snowlease

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go-snowlease/base62"
)

// Service is the process-wide entry point for minting identifiers. It wires
// the worker lease manager and the snowflake generator together and owns
// their lifecycle: construct it once at startup, pass it to whatever serves
// requests, and stop it on shutdown. There is no ambient global instance.
type Service struct {
	store       Store
	manager     *leaseManager
	gen         *generator
	coordinator *coordinator
	emitter     *emitter
	options     options

	state atomic.Int32
	lease atomic.Pointer[Lease]
}

// New creates a Service minting against the given lease store.
func New(store Store, opts ...Option) *Service {
	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if options.instanceID == "" {
		options.instanceID = uuid.New().String()
	}

	var service = &Service{
		store:   store,
		gen:     newGenerator(options.epoch, options.clock),
		options: options,
	}
	service.manager = newLeaseManager(store, options)

	if options.sink != nil {
		service.emitter = newEmitter(options.sink, options.eventBuffer, options.metrics, options.logger)
	}
	service.coordinator = newCoordinator(service, service.manager, service.emitter, options)

	service.state.Store(int32(StateInit))
	return service
}

// Start acquires a worker slot and launches the renewal loop. It must be
// called exactly once; on ErrSlotsExhausted the service is FAILED and the
// process must not serve traffic.
func (s *Service) Start(ctx context.Context) error {
	if s.State() != StateInit {
		return fmt.Errorf("service already started (state %s)", s.State())
	}

	if err := s.coordinator.start(ctx); err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("failed to start identifier service: %w", err)
	}

	s.state.Store(int32(StateReady))
	return nil
}

// Next mints the next identifier. It fails with ErrLeaseLost while the slot
// is lost and not yet reacquired, and with ErrNotReady before Start, after
// Stop, or once the service has failed. A clock regression is retried for a
// bounded wait before escalating; the escalation is fatal for this call only.
func (s *Service) Next() (int64, error) {
	switch s.State() {
	case StateReady:
	case StateLeaseLost:
		s.options.metrics.mintFailed("lease_lost")
		return 0, fmt.Errorf("minting paused: %w", ErrLeaseLost)
	default:
		s.options.metrics.mintFailed("not_ready")
		return 0, fmt.Errorf("service state is %s: %w", s.State(), ErrNotReady)
	}

	var lease = s.lease.Load()
	if lease == nil {
		s.options.metrics.mintFailed("not_ready")
		return 0, fmt.Errorf("no lease held: %w", ErrNotReady)
	}

	// The lease is only trustworthy while its TTL holds. Past ExpiresAt the
	// store may already have granted the slot to another process, so minting
	// must stop here even if the renewal worker has not noticed yet.
	if !s.options.clock.Now().Before(lease.ExpiresAt) {
		s.options.metrics.mintFailed("lease_lost")
		return 0, fmt.Errorf("lease on slot %d expired at %s: %w",
			lease.Slot, lease.ExpiresAt.Format(time.RFC3339), ErrLeaseLost)
	}

	var deadline = s.options.clock.Now().Add(s.options.clockWaitMax)
	for {
		var id, err = s.gen.mint(lease.Slot)
		if err == nil {
			s.options.metrics.mintOK()
			return id, nil
		}
		if !errors.Is(err, ErrClockRegression) {
			return 0, err
		}

		if s.options.clock.Now().After(deadline) {
			s.options.metrics.mintFailed("clock_regression")
			return 0, fmt.Errorf("clock did not catch up within %v: %w: %w",
				s.options.clockWaitMax, ErrNotReady, err)
		}

		time.Sleep(time.Millisecond)
	}
}

// NextCode mints the next identifier and renders it as a Base62 short code.
func (s *Service) NextCode() (string, error) {
	var id, err = s.Next()
	if err != nil {
		return "", err
	}
	return base62.Encode(id), nil
}

// Stop cancels the renewal loop and releases the slot, freeing it for other
// processes immediately instead of waiting out the TTL.
func (s *Service) Stop(ctx context.Context) error {
	var current = s.State()
	if current != StateReady && current != StateLeaseLost {
		return fmt.Errorf("cannot stop from state %s", current)
	}

	s.state.Store(int32(StateStopped))

	var err = s.coordinator.stop(ctx)

	var lease = s.lease.Load()
	if lease != nil {
		// The drain goroutine is already cancelled, deliver synchronously.
		s.emitter.sendNow(ctx, Event{Type: EventLeaseReleased, Slot: lease.Slot, At: s.options.clock.Now()})
	}
	s.lease.Store(nil)

	return err
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Slot returns the currently held worker slot, or -1 when none is held.
func (s *Service) Slot() int {
	var lease = s.lease.Load()
	if lease == nil || s.State() != StateReady {
		return -1
	}
	return lease.Slot
}

// DroppedEvents reports how many lifecycle events were discarded because the
// emitter buffer was full.
func (s *Service) DroppedEvents() uint64 {
	return s.emitter.droppedCount()
}

// Decompose splits an identifier minted by this service into its fields,
// using the service's configured epoch.
func (s *Service) Decompose(id int64) IDParts {
	return DecomposeAt(id, s.options.epoch)
}

func (s *Service) storeLease(lease *Lease) {
	s.lease.Store(lease)
}

func (s *Service) currentLease() *Lease {
	return s.lease.Load()
}

func (s *Service) markLeaseLost() {
	s.state.CompareAndSwap(int32(StateReady), int32(StateLeaseLost))
}

// markReady reports whether the service actually returned to READY; a false
// return means the state moved on (stopped) while reacquisition was in flight.
func (s *Service) markReady() bool {
	return s.state.CompareAndSwap(int32(StateLeaseLost), int32(StateReady))
}

func (s *Service) markFailed() {
	s.state.CompareAndSwap(int32(StateLeaseLost), int32(StateFailed))
}
