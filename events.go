package snowlease

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// EventType identifies a lease lifecycle transition.
type EventType string

const (
	EventLeaseAcquired   EventType = "lease_acquired"
	EventLeaseRenewed    EventType = "lease_renewed"
	EventLeaseLost       EventType = "lease_lost"
	EventLeaseReacquired EventType = "lease_reacquired"
	EventLeaseReleased   EventType = "lease_released"
	EventSlotsExhausted  EventType = "slots_exhausted"
)

// Event is a structured record of a lease lifecycle transition.
type Event struct {
	Type EventType `json:"type"`
	Slot int       `json:"slot"`
	At   time.Time `json:"at"`
}

// Sink receives lifecycle events. Implementations are expected to be slow
// (network transports); the emitter shields the mint path from them.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// emitter is a bounded, non-blocking handoff between the service and its
// Sink. When the buffer is full the event is dropped and counted; telemetry
// must never affect the uniqueness guarantees of the mint path.
type emitter struct {
	sink    Sink
	events  chan Event
	dropped atomic.Uint64
	metrics *Metrics
	logger  *slog.Logger
}

func newEmitter(sink Sink, buffer int, metrics *Metrics, logger *slog.Logger) *emitter {
	return &emitter{
		sink:    sink,
		events:  make(chan Event, buffer),
		metrics: metrics,
		logger:  logger,
	}
}

// emit enqueues an event without ever blocking.
func (e *emitter) emit(event Event) {
	if e == nil {
		return
	}

	select {
	case e.events <- event:
	default:
		e.dropped.Add(1)
		e.metrics.eventDropped()
	}
}

// droppedCount reports how many events were discarded because the buffer was
// full.
func (e *emitter) droppedCount() uint64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}

// sendNow delivers one event synchronously, best-effort. Used on the startup
// failure and clean shutdown paths where the drain goroutine is not running.
func (e *emitter) sendNow(ctx context.Context, event Event) {
	if e == nil {
		return
	}

	var sendCtx, cancel = context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := e.sink.Send(sendCtx, event); err != nil {
		e.logger.Warn("failed to send lifecycle event", "type", event.Type, "error", err)
	}
}

// run drains the buffer into the sink until the context is cancelled.
func (e *emitter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-e.events:
			var sendCtx, cancel = context.WithTimeout(ctx, time.Second)
			if err := e.sink.Send(sendCtx, event); err != nil {
				e.logger.Warn("failed to send lifecycle event", "type", event.Type, "error", err)
			}
			cancel()
		}
	}
}
