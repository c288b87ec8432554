package snowlease

import (
	"io"
	"log/slog"
	"time"
)

// options configures the Service behavior (internal only).
type options struct {
	maxSlots          int
	leaseTTL          time.Duration
	renewInterval     time.Duration
	storeTimeout      time.Duration
	renewBackoff      time.Duration
	acquireRetries    int
	acquireBackoff    time.Duration
	reacquireAttempts int
	reacquireBackoff  time.Duration
	clockWaitMax      time.Duration
	epoch             int64
	instanceID        string
	logger            *slog.Logger
	clock             Clock
	sink              Sink
	eventBuffer       int
	metrics           *Metrics
}

// defaultOptions returns sensible defaults.
func defaultOptions() options {
	var leaseTTL = 60 * time.Second
	return options{
		maxSlots:          1024,
		leaseTTL:          leaseTTL,
		renewInterval:     leaseTTL / 2,
		storeTimeout:      500 * time.Millisecond,
		renewBackoff:      500 * time.Millisecond,
		acquireRetries:    3,
		acquireBackoff:    250 * time.Millisecond,
		reacquireAttempts: 3,
		reacquireBackoff:  500 * time.Millisecond,
		clockWaitMax:      10 * time.Millisecond,
		epoch:             DefaultEpoch,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:             systemClock{},
		eventBuffer:       64,
	}
}

// Option is a functional option for configuring a Service.
type Option func(*options)

// WithMaxSlots sets the size of the worker slot space. The slot must fit the
// identifier's slot field, so values above MaxSlot+1 are clamped.
func WithMaxSlots(n int) Option {
	return func(o *options) {
		if n < 1 {
			return
		}
		if n > MaxSlot+1 {
			n = MaxSlot + 1
		}
		o.maxSlots = n
	}
}

// WithLeaseTTL sets the lease time-to-live duration. The renewal interval is
// derived as half the TTL so one missed renewal cycle never expires the lease.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.leaseTTL = ttl
		o.renewInterval = ttl / 2
	}
}

// WithRenewInterval overrides the derived renewal interval. Apply it after
// WithLeaseTTL; values outside (0, TTL) are ignored because an interval at or
// past the TTL guarantees expiry between renewals.
func WithRenewInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval <= 0 || interval >= o.leaseTTL {
			return
		}
		o.renewInterval = interval
	}
}

// WithStoreTimeout bounds every individual round-trip to the lease store.
// Keeping this well below the lease TTL ensures one slow call cannot by
// itself turn into a false lease loss.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.storeTimeout = timeout
	}
}

// WithRenewBackoff sets the initial backoff between renewal retries when the
// store is unreachable. The backoff doubles per retry and retries continue
// until the remaining TTL margin is spent.
func WithRenewBackoff(backoff time.Duration) Option {
	return func(o *options) {
		o.renewBackoff = backoff
	}
}

// WithAcquireRetries sets how many full slot-space scans Start performs
// before giving up with ErrSlotsExhausted, and the backoff between scans.
func WithAcquireRetries(retries int, backoff time.Duration) Option {
	return func(o *options) {
		if retries > 0 {
			o.acquireRetries = retries
		}
		o.acquireBackoff = backoff
	}
}

// WithReacquirePolicy sets how many times the service tries to acquire a
// fresh slot after losing its lease, and the backoff between attempts. After
// the budget is spent the service transitions to FAILED.
func WithReacquirePolicy(attempts int, backoff time.Duration) Option {
	return func(o *options) {
		o.reacquireAttempts = attempts
		o.reacquireBackoff = backoff
	}
}

// WithClockWaitMax bounds how long Next blocks waiting for the clock to catch
// up after a regression before surfacing ErrNotReady.
func WithClockWaitMax(d time.Duration) Option {
	return func(o *options) {
		o.clockWaitMax = d
	}
}

// WithEpoch sets the fixed reference instant, in milliseconds since the Unix
// epoch, from which identifier timestamps are measured. All processes sharing
// a slot space must agree on it.
func WithEpoch(epochMillis int64) Option {
	return func(o *options) {
		o.epoch = epochMillis
	}
}

// WithInstanceID sets a stable identity for this process. The identity only
// seeds the slot-scan start offset, so a restarted instance retries its
// previous slot first. DEFAULT: a random identity per process.
func WithInstanceID(id string) Option {
	return func(o *options) {
		o.instanceID = id
	}
}

// WithLogger sets the logger for the service.
// If the logger is nil, the service will use a no-op logger.
// DEFAULT: A no-op logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}

		o.logger = logger
	}
}

// WithClock sets the wall-clock source. Intended for tests.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock == nil {
			o.clock = systemClock{}
			return
		}

		o.clock = clock
	}
}

// WithSink sets the destination for lease lifecycle events. Emission is
// fire-and-forget: events the sink cannot keep up with are dropped and
// counted, never letting telemetry block the mint path.
func WithSink(sink Sink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithEventBuffer sets the emitter's channel capacity.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithMetrics attaches Prometheus instrumentation to the service.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
