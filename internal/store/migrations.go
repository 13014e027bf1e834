package store

import (
	"fmt"
	"strings"
)

// migrate applies the embedded sqlite schema. Statements are idempotent;
// ALTER TABLE additions that already exist are skipped by error text the
// same way the ADD COLUMN pattern always has to on sqlite. Networked
// drivers (postgres, mysql) expect the schema to be provisioned
// externally and are never migrated here.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			secret_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			owner_id TEXT NOT NULL REFERENCES users(id),
			label TEXT NOT NULL DEFAULT '',
			scopes TEXT NOT NULL DEFAULT 'read',
			is_active INTEGER NOT NULL DEFAULT 1,
			expires_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used_at DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_credentials_prefix ON credentials(key_prefix)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
