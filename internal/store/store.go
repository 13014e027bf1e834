package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/keygate/keygate/internal/model"
)

// Config selects the backing database for the credential store.
// The default sqlite driver is embedded and self-migrating; postgres and
// mysql connect to an externally provisioned schema.
type Config struct {
	Driver  string // "sqlite" (default), "postgres", "mysql"
	DSN     string // ignored for sqlite
	DataDir string // sqlite only; empty means in-memory
}

// Store is the relational adapter for credentials and users. It is safe
// for concurrent use.
type Store struct {
	db *sqlx.DB
}

// Open connects to the configured database. For sqlite an empty DataDir
// yields an in-memory store, which tests rely on.
func Open(cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case "sqlite":
		var dsn string
		if cfg.DataDir == "" {
			dsn = ":memory:?_journal_mode=WAL"
		} else {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(cfg.DataDir, "keygate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
		}
		db, err = sqlx.Connect("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	case "postgres":
		db, err = sqlx.Connect("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
	case "mysql":
		db, err = sqlx.Connect("mysql", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	s := &Store{db: db}
	if driver == "sqlite" {
		if err := s.migrate(); err != nil {
			return nil, fmt.Errorf("migrate store: %w", err)
		}
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks store connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// CreateCredential inserts a new credential row. SecretHash and Prefix
// must already be derived by the codec; they are write-once and never
// updated afterwards. ID and CreatedAt are populated on insert.
func (s *Store) CreateCredential(ctx context.Context, cred *model.Credential) error {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	cred.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO credentials
		(id, secret_hash, key_prefix, owner_id, label, scopes, is_active, expires_at, created_at)
		VALUES
		(:id, :secret_hash, :key_prefix, :owner_id, :label, :scopes, :is_active, :expires_at, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, cred); err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// FindActiveByPrefix returns every active credential sharing the given
// prefix in stable creation order. Expired rows are deliberately NOT
// filtered here: the verifier must compare against them anyway to keep
// its comparison count uniform.
func (s *Store) FindActiveByPrefix(ctx context.Context, prefix string) ([]model.Credential, error) {
	var creds []model.Credential
	q := s.db.Rebind(
		`SELECT * FROM credentials WHERE key_prefix = ? AND is_active = ? ORDER BY created_at, id`)
	if err := s.db.SelectContext(ctx, &creds, q, prefix, true); err != nil {
		return nil, fmt.Errorf("find credentials by prefix: %w", err)
	}
	return creds, nil
}

// TouchLastUsed sets the last-used timestamp for a credential. Callers
// treat this as best-effort; a failure never blocks authentication.
func (s *Store) TouchLastUsed(ctx context.Context, id string) error {
	q := s.db.Rebind(`UPDATE credentials SET last_used_at = ? WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DisableCredential flips a credential inactive. Revocation keeps the
// row for audit; it is never expressed as a delete. Ownership is
// enforced in the query.
func (s *Store) DisableCredential(ctx context.Context, id, ownerID string) error {
	q := s.db.Rebind(
		`UPDATE credentials SET is_active = ? WHERE id = ? AND owner_id = ? AND is_active = ?`)
	result, err := s.db.ExecContext(ctx, q, false, id, ownerID, true)
	if err != nil {
		return fmt.Errorf("disable credential: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCredential removes a credential row entirely. Only used for
// owner-initiated hard deletes.
func (s *Store) DeleteCredential(ctx context.Context, id, ownerID string) error {
	q := s.db.Rebind(`DELETE FROM credentials WHERE id = ? AND owner_id = ?`)
	result, err := s.db.ExecContext(ctx, q, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCredentialsForOwner returns all of an owner's credentials, newest
// first, including disabled ones for the owner's bookkeeping.
func (s *Store) ListCredentialsForOwner(ctx context.Context, ownerID string) ([]model.Credential, error) {
	var creds []model.Credential
	q := s.db.Rebind(
		`SELECT * FROM credentials WHERE owner_id = ? ORDER BY created_at DESC, id DESC`)
	if err := s.db.SelectContext(ctx, &creds, q, ownerID); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

// CountActiveForOwner counts the owner's active credentials, used to
// enforce the per-owner issuance cap.
func (s *Store) CountActiveForOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	q := s.db.Rebind(
		`SELECT COUNT(*) FROM credentials WHERE owner_id = ? AND is_active = ?`)
	if err := s.db.GetContext(ctx, &count, q, ownerID, true); err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return count, nil
}

// GetCredential returns a single credential by ID and owner.
func (s *Store) GetCredential(ctx context.Context, id, ownerID string) (*model.Credential, error) {
	var cred model.Credential
	q := s.db.Rebind(`SELECT * FROM credentials WHERE id = ? AND owner_id = ?`)
	if err := s.db.GetContext(ctx, &cred, q, id, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. ID and CreatedAt are populated on insert.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO users (id, email, password_hash, name, is_active, created_at)
		VALUES (:id, :email, :password_hash, :name, :is_active, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, user); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail looks up a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	q := s.db.Rebind(`SELECT * FROM users WHERE email = ?`)
	if err := s.db.GetContext(ctx, &user, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

// GetUser looks up a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	q := s.db.Rebind(`SELECT * FROM users WHERE id = ?`)
	if err := s.db.GetContext(ctx, &user, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// ListUsers returns all users, newest first.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users,
		`SELECT * FROM users ORDER BY created_at DESC`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// HasAnyUser reports whether at least one user exists, for first-run
// detection.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// UpdateUserLastLogin sets the last-login timestamp. Best-effort.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id string) error {
	q := s.db.Rebind(`UPDATE users SET last_login_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
