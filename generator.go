package snowlease

import (
	"fmt"
	"sync"
	"time"
)

// Identifier layout, most significant first: 41 bits of milliseconds since
// the epoch, 10 bits of worker slot, 12 bits of per-millisecond sequence.
const (
	timestampBits = 41
	slotBits      = 10
	sequenceBits  = 12

	// MaxSlot is the highest worker slot the identifier can carry.
	MaxSlot     = -1 ^ (-1 << slotBits) // 1023
	maxSequence = -1 ^ (-1 << sequenceBits)

	timestampShift = slotBits + sequenceBits
	slotShift      = sequenceBits
)

// DefaultEpoch is 2024-01-01T00:00:00Z in milliseconds since the Unix epoch.
// It gives the 41-bit timestamp field roughly 69 years of range.
const DefaultEpoch int64 = 1704067200000

// generator assembles 64-bit identifiers from the clock, a worker slot, and a
// per-millisecond sequence counter. It is safe for concurrent use within one
// process; the critical section does no I/O.
type generator struct {
	mu            sync.Mutex
	epoch         int64
	clock         Clock
	lastTimestamp int64
	sequence      int64
}

func newGenerator(epoch int64, clock Clock) *generator {
	return &generator{
		epoch: epoch,
		clock: clock,
	}
}

// mint produces the next identifier for the given slot. Successive calls for
// a fixed slot return strictly increasing values. A backwards clock fails
// with ErrClockRegression rather than risking a duplicate; sequence overflow
// within one millisecond spins to the next millisecond boundary.
func (g *generator) mint(slot int) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var now = g.clock.Now().UnixMilli()

	if now < g.lastTimestamp {
		return 0, fmt.Errorf("refusing to mint, clock is %dms behind the last identifier: %w",
			g.lastTimestamp-now, ErrClockRegression)
	}

	if now == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Slot's rate budget for this millisecond is spent. The wait is at
			// most one millisecond, so spinning beats releasing the lock.
			for now <= g.lastTimestamp {
				now = g.clock.Now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastTimestamp = now

	var id = ((now - g.epoch) << timestampShift) |
		(int64(slot) << slotShift) |
		g.sequence

	return id, nil
}

// IDParts holds the decomposed fields of an identifier.
type IDParts struct {
	Timestamp time.Time
	Slot      int
	Sequence  int
}

// Decompose splits an identifier minted against DefaultEpoch back into its
// fields.
func Decompose(id int64) IDParts {
	return DecomposeAt(id, DefaultEpoch)
}

// DecomposeAt splits an identifier minted against a custom epoch.
func DecomposeAt(id int64, epochMillis int64) IDParts {
	return IDParts{
		Timestamp: time.UnixMilli((id >> timestampShift) + epochMillis).UTC(),
		Slot:      int((id >> slotShift) & MaxSlot),
		Sequence:  int(id & maxSequence),
	}
}
