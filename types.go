package snowlease

import "time"

// Lease represents exclusive ownership of one worker slot. The token is
// minted at acquisition time and proves ownership on renew and release, so a
// process can never extend or delete a lease that expired and was reacquired
// by someone else. Leases are immutable; renewal produces a fresh value.
type Lease struct {
	Slot      int
	Token     string
	ExpiresAt time.Time
}

// State describes the lifecycle of a Service.
type State int32

const (
	StateInit State = iota
	StateReady
	StateLeaseLost
	StateStopped
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StateLeaseLost:
		return "LEASE_LOST"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Clock abstracts wall-clock reads so tests can simulate drift and regression.
type Clock interface {
	Now() time.Time
}

// systemClock is the default Clock backed by time.Now.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
