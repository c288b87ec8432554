package snowlease

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService(t *testing.T) {
	var (
		newCtx = func() context.Context {
			return context.Background()
		}
		// Fast intervals for testing: renewal every 100ms against a 500ms TTL.
		newService = func(store Store, opts ...Option) *Service {
			var defaults = []Option{
				WithMaxSlots(4),
				WithLeaseTTL(500 * time.Millisecond),
				WithStoreTimeout(50 * time.Millisecond),
				WithRenewBackoff(20 * time.Millisecond),
				WithAcquireRetries(1, time.Millisecond),
			}
			return New(store, append(defaults, opts...)...)
		}
	)

	t.Run("should transition INIT to READY on start and mint identifiers", func(t *testing.T) {
		// Arrange
		var (
			store = newFakeStore(systemClock{})
			sut   = newService(store)
		)
		assert.Equal(t, StateInit, sut.State())

		// Act
		err := sut.Start(newCtx())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, StateReady, sut.State())
		assert.GreaterOrEqual(t, sut.Slot(), 0)

		id, mintErr := sut.Next()
		require.NoError(t, mintErr)
		assert.Equal(t, sut.Slot(), Decompose(id).Slot)

		// Cleanup
		require.NoError(t, sut.Stop(newCtx()))
	})

	t.Run("should fail with ErrNotReady before start", func(t *testing.T) {
		// Arrange
		var sut = newService(newFakeStore(systemClock{}))

		// Act
		_, err := sut.Next()

		// Assert
		assert.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("should refuse a second start", func(t *testing.T) {
		// Arrange
		var sut = newService(newFakeStore(systemClock{}))
		require.NoError(t, sut.Start(newCtx()))

		// Act
		err := sut.Start(newCtx())

		// Assert
		assert.Error(t, err)

		// Cleanup
		require.NoError(t, sut.Stop(newCtx()))
	})

	t.Run("should transition to FAILED when all slots are held", func(t *testing.T) {
		// Arrange
		var store = newFakeStore(systemClock{})
		for slot := range 4 {
			acquired, err := store.Acquire(newCtx(), slot, "other-owner", time.Minute)
			require.NoError(t, err)
			require.True(t, acquired)
		}
		var sut = newService(store)

		// Act
		err := sut.Start(newCtx())

		// Assert
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSlotsExhausted)
		assert.Equal(t, StateFailed, sut.State())

		_, mintErr := sut.Next()
		assert.ErrorIs(t, mintErr, ErrNotReady)
	})

	t.Run("should release the slot on clean shutdown", func(t *testing.T) {
		// Arrange
		var (
			store = newFakeStore(systemClock{})
			sut   = newService(store)
		)
		require.NoError(t, sut.Start(newCtx()))
		var slot = sut.Slot()

		// Act
		err := sut.Stop(newCtx())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, StateStopped, sut.State())
		assert.Empty(t, store.ownerOf(slot), "slot should be free immediately, not after TTL")

		_, mintErr := sut.Next()
		assert.ErrorIs(t, mintErr, ErrNotReady)
	})

	t.Run("should keep the lease alive across many renewal cycles", func(t *testing.T) {
		// Arrange
		var (
			store = newFakeStore(systemClock{})
			sut   = newService(store)
		)
		require.NoError(t, sut.Start(newCtx()))
		var slot = sut.Slot()

		// Act: outlive the 500ms TTL several times over.
		time.Sleep(1600 * time.Millisecond)

		// Assert
		assert.Equal(t, StateReady, sut.State())
		assert.NotEmpty(t, store.ownerOf(slot), "renewals must keep the store-side lease live")

		// Cleanup
		require.NoError(t, sut.Stop(newCtx()))
	})

	t.Run("should ride out transient store outages during renewal", func(t *testing.T) {
		// Arrange
		var (
			store = newFakeStore(systemClock{})
			sut   = newService(store)
		)
		require.NoError(t, sut.Start(newCtx()))

		// Act: store unreachable across a renewal tick, but for less than the
		// TTL margin.
		store.setRenewErr(errors.New("connection refused"))
		time.Sleep(300 * time.Millisecond)
		store.setRenewErr(nil)
		time.Sleep(200 * time.Millisecond)

		// Assert
		assert.Equal(t, StateReady, sut.State())
		_, mintErr := sut.Next()
		assert.NoError(t, mintErr)

		// Cleanup
		require.NoError(t, sut.Stop(newCtx()))
	})

	t.Run("should pause minting and reacquire after losing the lease", func(t *testing.T) {
		// Arrange
		var (
			store = newFakeStore(systemClock{})
			sut   = newService(store, WithReacquirePolicy(5, 10*time.Millisecond))
		)
		require.NoError(t, sut.Start(newCtx()))
		var slot = sut.Slot()

		// Act: expire the lease behind the service's back and let another
		// owner take the slot.
		store.expire(slot)
		taken, err := store.Acquire(newCtx(), slot, "usurper", time.Minute)
		require.NoError(t, err)
		require.True(t, taken)

		// Assert: the service notices, pauses, and comes back on a new slot.
		assert.Eventually(t, func() bool {
			return sut.State() == StateReady && sut.Slot() != slot
		}, 3*time.Second, 10*time.Millisecond, "service should reacquire a different slot")

		id, mintErr := sut.Next()
		require.NoError(t, mintErr)
		assert.NotEqual(t, slot, Decompose(id).Slot)

		// Cleanup
		require.NoError(t, sut.Stop(newCtx()))
	})

	t.Run("should refuse to mint once the lease TTL has passed without renewal", func(t *testing.T) {
		// Arrange: a stalled renewal worker, simulated by advancing only the
		// fake clock so no renewal tick has run since acquisition.
		var (
			clock = newFakeClock(time.UnixMilli(DefaultEpoch).Add(time.Hour))
			store = newFakeStore(clock)
			sut   = newService(store, WithClock(clock))
		)
		require.NoError(t, sut.Start(newCtx()))
		var slot = sut.Slot()

		_, err := sut.Next()
		require.NoError(t, err)

		// Act: the TTL passes and the store hands the slot to another owner.
		clock.Advance(time.Second)
		taken, acquireErr := store.Acquire(newCtx(), slot, "new-owner", time.Minute)
		require.NoError(t, acquireErr)
		require.True(t, taken)

		// Assert: minting stops on the local expiry alone, without waiting
		// for a renewal tick to discover the loss.
		_, mintErr := sut.Next()
		assert.ErrorIs(t, mintErr, ErrLeaseLost)
	})

	t.Run("should transition to FAILED when the reacquire budget is exhausted", func(t *testing.T) {
		// Arrange: single-slot space, so reacquisition cannot succeed.
		var (
			store = newFakeStore(systemClock{})
			sut   = newService(store,
				WithMaxSlots(1),
				WithReacquirePolicy(2, 10*time.Millisecond))
		)
		require.NoError(t, sut.Start(newCtx()))

		// Act
		store.expire(0)
		taken, err := store.Acquire(newCtx(), 0, "usurper", time.Minute)
		require.NoError(t, err)
		require.True(t, taken)

		// Assert
		assert.Eventually(t, func() bool {
			return sut.State() == StateFailed
		}, 3*time.Second, 10*time.Millisecond)

		_, mintErr := sut.Next()
		assert.ErrorIs(t, mintErr, ErrNotReady)
	})

	t.Run("should release a slot reacquired after stop instead of holding it to TTL", func(t *testing.T) {
		// Arrange
		var (
			store = newFakeStore(systemClock{})
			sut   = newService(store,
				WithMaxSlots(1),
				WithReacquirePolicy(2, 10*time.Millisecond))
		)
		require.NoError(t, sut.Start(newCtx()))

		// Block the reacquisition attempt inside the store so Stop can run
		// while the acquire is in flight.
		var (
			entered  = make(chan struct{})
			unblock  = make(chan struct{})
			hookOnce sync.Once
		)
		store.setAcquireHook(func(int) {
			hookOnce.Do(func() { close(entered) })
			<-unblock
		})

		// Act: expire the lease so the next renewal tick starts reacquiring.
		store.expire(0)
		select {
		case <-entered:
		case <-time.After(3 * time.Second):
			t.Fatal("reacquisition never reached the store")
		}

		require.NoError(t, sut.Stop(newCtx()))
		close(unblock)

		// Assert: the late acquire must not leave the slot held by a stopped
		// process.
		assert.Eventually(t, func() bool {
			return store.ownerOf(0) == "" && sut.Slot() == -1
		}, 3*time.Second, 10*time.Millisecond)
		assert.Equal(t, StateStopped, sut.State())
	})

	t.Run("should free a crashed instance's slot only after TTL expiry", func(t *testing.T) {
		// Arrange
		var (
			clock  = newFakeClock(time.UnixMilli(DefaultEpoch).Add(time.Hour))
			store  = newFakeStore(clock)
			first  = newService(store, WithMaxSlots(1), WithClock(clock))
			second = newService(store, WithMaxSlots(1), WithClock(clock))
		)
		require.NoError(t, first.Start(newCtx()))
		first.simulateCrash()

		// Act & Assert: slot still held, then frees once the TTL passes.
		err := second.Start(newCtx())
		assert.ErrorIs(t, err, ErrSlotsExhausted)

		clock.Advance(time.Second)

		var third = newService(store, WithMaxSlots(1), WithClock(clock))
		require.NoError(t, third.Start(newCtx()))
		assert.Equal(t, 0, third.Slot())
	})
}

func TestTwoInstanceScenario(t *testing.T) {
	// Two generator instances over a shared two-slot store: both mint
	// concurrently without collisions, then instance A loses its slot to
	// instance B's side and must stop minting rather than emit under a slot
	// it no longer owns.
	var (
		ctx        = context.Background()
		store      = newFakeStore(systemClock{})
		newService = func() *Service {
			return New(store,
				WithMaxSlots(2),
				WithLeaseTTL(300*time.Millisecond),
				WithStoreTimeout(50*time.Millisecond),
				WithAcquireRetries(1, time.Millisecond),
				// Park in LEASE_LOST: one quick attempt, then a long backoff.
				WithReacquirePolicy(10, time.Hour))
		}
		instanceA = newService()
		instanceB = newService()
	)

	require.NoError(t, instanceA.Start(ctx))
	require.NoError(t, instanceB.Start(ctx))
	require.NotEqual(t, instanceA.Slot(), instanceB.Slot(), "instances must hold distinct slots")

	var (
		wg  sync.WaitGroup
		ids = make([][]int64, 2)
	)
	for i, svc := range []*Service{instanceA, instanceB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10_000 {
				id, err := svc.Next()
				if err != nil {
					t.Errorf("mint failed mid-run: %v", err)
					return
				}
				ids[i] = append(ids[i], id)
			}
		}()
	}
	wg.Wait()

	// Per-instance strict ordering.
	for i := range ids {
		require.Len(t, ids[i], 10_000)
		assert.True(t, sort.SliceIsSorted(ids[i], func(a, b int) bool {
			return ids[i][a] < ids[i][b]
		}), "instance %d identifiers must be strictly increasing", i)
		for j := 1; j < len(ids[i]); j++ {
			if ids[i][j] == ids[i][j-1] {
				t.Fatalf("instance %d minted duplicate %d", i, ids[i][j])
			}
		}
	}

	// Zero collisions across instances.
	var seen = make(map[int64]bool, 20_000)
	for i := range ids {
		for _, id := range ids[i] {
			if seen[id] {
				t.Fatalf("collision on identifier %d", id)
			}
			seen[id] = true
		}
	}

	// Force instance A's lease to expire without renewal and hand its slot
	// to another owner.
	var slotA = instanceA.Slot()
	store.expire(slotA)
	taken, err := store.Acquire(ctx, slotA, "instance-b-second-lease", time.Minute)
	require.NoError(t, err)
	require.True(t, taken)

	// Instance A must stop minting under the stolen slot.
	assert.Eventually(t, func() bool {
		_, mintErr := instanceA.Next()
		return errors.Is(mintErr, ErrLeaseLost)
	}, 3*time.Second, 10*time.Millisecond, "instance A must fail with ErrLeaseLost")

	// Instance B is unaffected.
	_, mintErr := instanceB.Next()
	assert.NoError(t, mintErr)

	require.NoError(t, instanceB.Stop(ctx))
}
