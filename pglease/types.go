package pglease

import "time"

// LeaseRecord represents a worker lease row in the database.
type LeaseRecord struct {
	Slot      int
	Token     string
	ExpiresAt time.Time
}
