package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/shopsync/internal/task"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Fresh database or one written by the previous agent (pending_orders)
// 1 - reconciliation_tasks populated from pending_orders when present
const currentSchemaVersion = 1

// Store is the durable task store. Uses SQLite with WAL mode.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 imports rows left by the previous agent, which kept its queue
// in a pending_orders table inside the same database file. The legacy table
// is left in place.
func migrateToV1(db *sql.DB) error {
	var name string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'pending_orders'",
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO reconciliation_tasks
		(id, order_number, items, total_amount, status, invoice_number, retry_count, created_at, updated_at)
		SELECT
			id,
			orderNumber,
			items,
			totalAmount,
			COALESCE(status, 'PENDING'),
			NULLIF(invoiceNumber, ''),
			COALESCE(retryCount, 0),
			strftime('%Y-%m-%dT%H:%M:%S.000000000Z', COALESCE(createdAt, CURRENT_TIMESTAMP)),
			strftime('%Y-%m-%dT%H:%M:%S.000000000Z', COALESCE(updatedAt, CURRENT_TIMESTAMP))
		FROM pending_orders
		WHERE status IN ('PENDING', 'PROCESSED', 'BILLED', 'SYNCED') OR status IS NULL
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: import pending_orders: %w", err)
	}
	return nil
}

// fatalCodes are SQLite result codes after which the database cannot be
// trusted to record further progress.
var fatalCodes = map[sqlite3.ErrNo]bool{
	sqlite3.ErrCorrupt:  true,
	sqlite3.ErrNotADB:   true,
	sqlite3.ErrFull:     true,
	sqlite3.ErrReadonly: true,
	sqlite3.ErrIoErr:    true,
	sqlite3.ErrCantOpen: true,
}

// IsFatal reports whether err comes from SQLite and leaves the database
// unusable.
func IsFatal(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return fatalCodes[se.Code]
	}
	return errors.Is(err, sql.ErrConnDone)
}

// wrap annotates err with op and tags unrecoverable failures with
// task.ErrStoreFatal.
func wrap(op string, err error) error {
	if IsFatal(err) {
		return fmt.Errorf("%s: %w: %w", op, task.ErrStoreFatal, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(ctx context.Context, name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRowContext(ctx, query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
