package snowlease

import "errors"

var (
	// ErrSlotsExhausted is returned when every worker slot is held by a live
	// lease and the acquire retry budget has been spent. This is fatal for
	// process startup: minting without a slot is not allowed.
	ErrSlotsExhausted = errors.New("all worker slots are leased")

	// ErrLeaseLost is returned when the lease store no longer recognizes this
	// process as the owner of its slot. Minting must stop until a new slot is
	// acquired.
	ErrLeaseLost = errors.New("worker lease lost")

	// ErrClockRegression is returned when the wall clock moved behind the
	// timestamp of the last minted identifier.
	ErrClockRegression = errors.New("clock moved backwards")

	// ErrNotReady is returned by Next when the service has not started, has
	// stopped, or has failed.
	ErrNotReady = errors.New("identifier service not ready")

	// ErrStoreUnavailable indicates a transient failure talking to the lease
	// store. Renewal retries it internally until the lease TTL margin runs out.
	ErrStoreUnavailable = errors.New("lease store unavailable")
)
