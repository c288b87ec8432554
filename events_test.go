package snowlease

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records every event it receives.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Send(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *captureSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()

	var types = make([]EventType, len(s.events))
	for i, event := range s.events {
		types[i] = event.Type
	}
	return types
}

func TestEmitter(t *testing.T) {
	var noopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("should drop events instead of blocking when the buffer is full", func(t *testing.T) {
		// Arrange: no consumer running, so the buffer never drains.
		var sut = newEmitter(&captureSink{}, 2, nil, noopLogger)

		// Act
		for range 5 {
			sut.emit(Event{Type: EventLeaseRenewed, Slot: 1})
		}

		// Assert
		assert.Equal(t, uint64(3), sut.droppedCount())
	})

	t.Run("should deliver buffered events to the sink", func(t *testing.T) {
		// Arrange
		var (
			sink        = &captureSink{}
			sut         = newEmitter(sink, 8, nil, noopLogger)
			ctx, cancel = context.WithCancel(context.Background())
		)
		defer cancel()
		go sut.run(ctx)

		// Act
		sut.emit(Event{Type: EventLeaseAcquired, Slot: 3})
		sut.emit(Event{Type: EventLeaseRenewed, Slot: 3})

		// Assert
		assert.Eventually(t, func() bool {
			return len(sink.types()) == 2
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, []EventType{EventLeaseAcquired, EventLeaseRenewed}, sink.types())
		assert.Zero(t, sut.droppedCount())
	})

	t.Run("should be a no-op when no sink is configured", func(t *testing.T) {
		// Arrange
		var sut *emitter

		// Act & Assert: nil emitter swallows emissions silently.
		sut.emit(Event{Type: EventLeaseLost, Slot: 0})
		assert.Zero(t, sut.droppedCount())
	})
}

func TestServiceEvents(t *testing.T) {
	t.Run("should emit lifecycle events through the configured sink", func(t *testing.T) {
		// Arrange
		var (
			ctx   = context.Background()
			sink  = &captureSink{}
			store = newFakeStore(systemClock{})
			sut   = New(store,
				WithMaxSlots(2),
				WithLeaseTTL(time.Minute),
				WithSink(sink))
		)

		// Act
		require.NoError(t, sut.Start(ctx))
		var slot = sut.Slot()

		// Assert: the acquisition event reaches the sink without any mint or
		// shutdown activity blocking on it.
		assert.Eventually(t, func() bool {
			return len(sink.types()) >= 1
		}, time.Second, 5*time.Millisecond)

		var types = sink.types()
		require.Contains(t, types, EventLeaseAcquired)
		for _, event := range sink.snapshot() {
			if event.Type == EventLeaseAcquired {
				assert.Equal(t, slot, event.Slot)
			}
		}

		// Cleanup
		require.NoError(t, sut.Stop(ctx))
	})
}
