package library

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Querier is the part of *sql.DB and *sql.Tx the ledgers and engines use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Gateway is the persistence boundary. Reads go straight through the
// Querier; every mutation of loans, penalties or the derived counters runs
// inside RunInTx.
type Gateway interface {
	Querier
	RunInTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
	Close() error
}

// DatabaseOptions tunes the SQLite connection.
type DatabaseOptions struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
	OpTimeout    time.Duration
}

// Database provides high-level helpers around a SQLite connection and
// implements Gateway.
type Database struct {
	db        *sql.DB
	opTimeout time.Duration
}

var _ Gateway = (*Database)(nil)

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations.
func NewDatabase(dbPath string, opts DatabaseOptions) (*Database, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 4
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 10 * time.Second
	}

	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Immediate transactions take the write lock at BEGIN, so check-then-write
	// sequences cannot interleave with another workstation's writer.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=1&_txlock=immediate",
		dbPath, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, mapError(err)
	}
	return &Database{db: db, opTimeout: opts.OpTimeout}, nil
}

// Close closes the DB.
func (d *Database) Close() error {
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);`,
	`CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		isbn TEXT NOT NULL UNIQUE,
		publisher TEXT NOT NULL DEFAULT '',
		publication_year INTEGER NOT NULL DEFAULT 0,
		total_copies INTEGER NOT NULL CHECK (total_copies >= 0),
		available_copies INTEGER NOT NULL
			CHECK (available_copies >= 0 AND available_copies <= total_copies),
		category_id INTEGER REFERENCES categories(id)
	);`,
	`CREATE TABLE IF NOT EXISTS members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		registered_on TEXT NOT NULL,
		total_debt_cents INTEGER NOT NULL DEFAULT 0 CHECK (total_debt_cents >= 0),
		active INTEGER NOT NULL DEFAULT 1
	);`,
	`CREATE TABLE IF NOT EXISTS staff (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL CHECK (role IN ('admin', 'clerk')),
		active INTEGER NOT NULL DEFAULT 1
	);`,
	`CREATE TABLE IF NOT EXISTS loans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		member_id INTEGER NOT NULL REFERENCES members(id),
		book_id INTEGER NOT NULL REFERENCES books(id),
		staff_id INTEGER REFERENCES staff(id),
		loaned_on TEXT NOT NULL,
		due_on TEXT NOT NULL,
		returned_on TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_loans_member_open ON loans(member_id) WHERE returned_on IS NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_loans_book_open ON loans(book_id) WHERE returned_on IS NULL;`,
	`CREATE TABLE IF NOT EXISTS penalties (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		loan_id INTEGER REFERENCES loans(id),
		member_id INTEGER NOT NULL REFERENCES members(id),
		amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
		days_late INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		paid INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_penalties_member ON penalties(member_id, paid);`,
}

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range migrations {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Gateway
// ---------------------------------------------------------------------------

func (d *Database) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

func (d *Database) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

func (d *Database) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// RunInTx executes fn within one immediate transaction bounded by the
// operation timeout. It commits when fn returns nil and rolls back on error
// or panic. Errors come back mapped to this package's kinds; a failed commit
// is a consistency failure.
func (d *Database) RunInTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin transaction: %w", err))
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w: rollback failed: %v (cause: %w)", ErrConsistency, rbErr, err)
		}
		return mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %w", ErrConsistency, err)
	}
	return nil
}

// execWrite runs a parameterized insert/update/delete and reports the number
// of affected rows and the generated id.
func execWrite(ctx context.Context, q Querier, query string, args ...any) (affected, lastID int64, err error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, 0, mapError(err)
	}
	if affected, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}
	if lastID, err = res.LastInsertId(); err != nil {
		return affected, 0, err
	}
	return affected, lastID, nil
}

// exists runs a SELECT EXISTS(...) query.
func exists(ctx context.Context, q Querier, query string, args ...any) (bool, error) {
	var ok bool
	if err := q.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, mapError(err)
	}
	return ok, nil
}

// mapError converts driver and context errors to this package's kinds.
// Errors that already carry a kind pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if IsRejection(err) || errors.Is(err, ErrConsistency) || errors.Is(err, ErrConnectivity) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}

	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB:
			return fmt.Errorf("%w: %w", ErrConnectivity, err)
		case sqlite3.ErrConstraint:
			if sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return withDetail(ErrDuplicate, "record already exists: %v", sqlErr)
			}
			// A CHECK or foreign key failure means a counter or reference
			// would have left its valid range.
			return fmt.Errorf("%w: %w", ErrConsistency, err)
		}
	}
	return err
}

// ---------------------------------------------------------------------------
// Dates and money
// ---------------------------------------------------------------------------

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339
)

// civilDay strips the clock from t, keeping its calendar date.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween counts whole calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(civilDay(b).Sub(civilDay(a)).Hours() / 24)
}

func formatDate(t time.Time) string { return civilDay(t).Format(dateLayout) }

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad stored date %q: %w", ErrConsistency, s, err)
	}
	return t, nil
}

func parseNullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
