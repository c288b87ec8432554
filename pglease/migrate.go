package pglease

import (
	"database/sql"
	"fmt"
)

var createLeasesTableSQL = `
CREATE TABLE IF NOT EXISTS %s_worker_leases (
    slot          INTEGER       NOT NULL,
    token         VARCHAR       NOT NULL,
    expires_at    TIMESTAMPTZ   NOT NULL,

    PRIMARY KEY (slot)
);`

// Migrate creates the worker lease table for the given namespace.
func Migrate(db *sql.DB, namespace string) error {
	if err := ValidateNamespace(namespace); err != nil {
		return fmt.Errorf("invalid namespace: %w", err)
	}

	var query = fmt.Sprintf(createLeasesTableSQL, namespace)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create worker leases table: %w", err)
	}

	return nil
}
