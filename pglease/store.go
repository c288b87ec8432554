// Package pglease implements the lease store protocol on PostgreSQL. Each
// conditional write is a single statement, so atomicity comes from the
// database rather than from client-side sequencing.
package pglease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrInvalidNamespace is returned when the namespace contains invalid characters
	ErrInvalidNamespace = errors.New("namespace must contain only lowercase letters, numbers, and underscores, and start with a letter")

	// validNamespacePattern validates PostgreSQL-safe identifiers
	validNamespacePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// DBTX is an interface that both sql.DB and sql.Tx implement.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	acquireLeaseSQL = `
INSERT INTO %s_worker_leases (slot, token, expires_at)
VALUES ($1, $2, now() + make_interval(secs => $3))
ON CONFLICT (slot)
DO UPDATE SET
    token = EXCLUDED.token,
    expires_at = EXCLUDED.expires_at
WHERE %s_worker_leases.expires_at <= now();`

	renewLeaseSQL = `
UPDATE %s_worker_leases
SET expires_at = now() + make_interval(secs => $3)
WHERE slot = $1 AND token = $2 AND expires_at > now();`

	releaseLeaseSQL = `
DELETE FROM %s_worker_leases
WHERE slot = $1 AND token = $2;`

	getLeaseSQL = `
SELECT slot, token, expires_at
FROM %s_worker_leases
WHERE slot = $1 AND expires_at > now();`
)

// Store provides namespace-aware lease operations on PostgreSQL.
type Store struct {
	db        DBTX
	namespace string
}

// New creates a Store for the given namespace. The namespace prefixes the
// lease table, so independent slot spaces can share a database.
func New(db DBTX, namespace string, opts ...Option) (*Store, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, fmt.Errorf("invalid namespace: %w", err)
	}

	var store = &Store{
		db:        db,
		namespace: namespace,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Option configures a Store.
type Option func(*Store)

// ValidateNamespace checks if the namespace is valid for use as a PostgreSQL identifier.
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return errors.New("namespace cannot be empty")
	}

	if len(namespace) > 49 {
		// Leaves room for the "_worker_leases" suffix within Postgres's
		// 63-character identifier limit.
		return errors.New("namespace must be 49 characters or less")
	}

	if !validNamespacePattern.MatchString(namespace) {
		return ErrInvalidNamespace
	}

	return nil
}

// Acquire installs a lease on the slot iff no live lease exists there. The
// expired-row takeover happens inside the conditional upsert, so a crashed
// owner's slot becomes available the moment its TTL passes.
func (s *Store) Acquire(ctx context.Context, slot int, token string, ttl time.Duration) (bool, error) {
	var query = fmt.Sprintf(acquireLeaseSQL, s.namespace, s.namespace)
	result, err := s.db.ExecContext(ctx, query, slot, token, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease for slot %d: %w", slot, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read acquire result for slot %d: %w", slot, err)
	}

	return rows == 1, nil
}

// Renew extends the lease iff the slot's live lease carries the given token.
func (s *Store) Renew(ctx context.Context, slot int, token string, ttl time.Duration) (bool, error) {
	var query = fmt.Sprintf(renewLeaseSQL, s.namespace)
	result, err := s.db.ExecContext(ctx, query, slot, token, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to renew lease for slot %d: %w", slot, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read renew result for slot %d: %w", slot, err)
	}

	return rows == 1, nil
}

// Release deletes the lease iff the slot's lease carries the given token.
func (s *Store) Release(ctx context.Context, slot int, token string) (bool, error) {
	var query = fmt.Sprintf(releaseLeaseSQL, s.namespace)
	result, err := s.db.ExecContext(ctx, query, slot, token)
	if err != nil {
		return false, fmt.Errorf("failed to release lease for slot %d: %w", slot, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read release result for slot %d: %w", slot, err)
	}

	return rows == 1, nil
}

// Get retrieves the live lease on a slot, or nil if none.
func (s *Store) Get(ctx context.Context, slot int) (*LeaseRecord, error) {
	var (
		query = fmt.Sprintf(getLeaseSQL, s.namespace)
		lease LeaseRecord
		err   = s.db.QueryRowContext(ctx, query, slot).Scan(
			&lease.Slot, &lease.Token, &lease.ExpiresAt,
		)
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lease for slot %d: %w", slot, err)
	}

	return &lease, nil
}
