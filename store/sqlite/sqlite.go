/*
Package sqlite provides a SQLite-backed implementation of allocation.Store.

PURPOSE:
  Persists availability records and the booking ledger in a single SQLite
  file. This is the default durable store for a single clinic process.

INTERFACES IMPLEMENTED:
  allocation.Store:   Availability + ledger
  allocation.TxStore: WithTx for cancel-today

KEY TABLES:
  availability: One row per referenced date (avail_date is the primary key)
  bookings:     Ledger rows, never deleted; status confirmed -> cancelled

CONSTRAINTS:
  - bookings(booking_date, token_number) is unique
  - identity uniqueness follows the store's UniquenessScope:
      per_date: idx_bookings_identity_date   (identity, booking_date)
      global:   idx_bookings_identity_global (identity)
      none:     plain lookup index only
    Opening an existing file with another scope drops the other indexes.

TOKEN ISSUE:
  IncrementBooked is a single conditional UPDATE ... RETURNING, so a closed
  or full date is never oversold even without the engine's lock.

CONCURRENCY:
  The pool is limited to one connection. SQLite allows one writer at a
  time anyway, and ":memory:" databases are per connection.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/tokens.db", allocation.UniquePerDate)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). Versioned migrations are out of scope.

SEE ALSO:
  - allocation/store.go: Interface definitions
  - allocation/store/memory.go: In-memory implementation for testing
  - store/postgres: Multi-instance deployments
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/token-engine/allocation"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements allocation.Store over any queryer.
type queries struct {
	q queryer
}

// Store implements allocation.TxStore using SQLite.
type Store struct {
	queries
	db    *sql.DB
	scope allocation.UniquenessScope
}

// New opens (or creates) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string, scope allocation.UniquenessScope) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := Open(db, scope)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Open wraps an existing handle without touching the schema.
func Open(db *sql.DB, scope allocation.UniquenessScope) *Store {
	if scope == "" {
		scope = allocation.UniquePerDate
	}
	return &Store{queries: queries{q: db}, db: db, scope: scope}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema and the identity index for the store's scope.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS availability (
		avail_date TEXT PRIMARY KEY,
		is_open INTEGER NOT NULL DEFAULT 1,
		capacity INTEGER NOT NULL,
		booked_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		identity TEXT NOT NULL,
		subject_name TEXT NOT NULL,
		booking_date TEXT NOT NULL,
		token_number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'confirmed',
		provider TEXT NOT NULL DEFAULT '',
		time_slot TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE (booking_date, token_number)
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_identity ON bookings(identity);
	CREATE INDEX IF NOT EXISTS idx_bookings_status_date ON bookings(status, booking_date);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	var identityDDL string
	switch s.scope {
	case allocation.UniqueGlobal:
		identityDDL = `
		DROP INDEX IF EXISTS idx_bookings_identity_date;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_identity_global ON bookings(identity);`
	case allocation.UniqueNone:
		identityDDL = `
		DROP INDEX IF EXISTS idx_bookings_identity_date;
		DROP INDEX IF EXISTS idx_bookings_identity_global;`
	default:
		identityDDL = `
		DROP INDEX IF EXISTS idx_bookings_identity_global;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_identity_date ON bookings(identity, booking_date);`
	}
	_, err := s.db.ExecContext(ctx, identityDDL)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
// If fn returns error, the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(allocation.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&queries{q: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// AVAILABILITY
// =============================================================================

func (s *queries) GetOrCreate(ctx context.Context, date allocation.Date, capacity int) (allocation.Availability, error) {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO availability (avail_date, is_open, capacity, booked_count)
		VALUES (?, 1, ?, 0)
		ON CONFLICT(avail_date) DO NOTHING
	`, date.String(), capacity)
	if err != nil {
		return allocation.Availability{}, fmt.Errorf("failed to create availability: %w", err)
	}
	return s.Get(ctx, date)
}

func (s *queries) Get(ctx context.Context, date allocation.Date) (allocation.Availability, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT avail_date, is_open, capacity, booked_count
		FROM availability WHERE avail_date = ?
	`, date.String())
	a, err := scanAvailability(row)
	if errors.Is(err, sql.ErrNoRows) {
		return allocation.Availability{}, allocation.ErrAvailabilityNotFound
	}
	return a, err
}

func (s *queries) CloseDate(ctx context.Context, date allocation.Date, capacity int) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO availability (avail_date, is_open, capacity, booked_count)
		VALUES (?, 0, ?, 0)
		ON CONFLICT(avail_date) DO UPDATE SET is_open = 0
	`, date.String(), capacity)
	return err
}

func (s *queries) ResetDate(ctx context.Context, date allocation.Date, capacity int) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO availability (avail_date, is_open, capacity, booked_count)
		VALUES (?, 0, ?, 0)
	`, date.String(), capacity)
	return err
}

func (s *queries) IncrementBooked(ctx context.Context, date allocation.Date) (int, error) {
	var token int
	err := s.q.QueryRowContext(ctx, `
		UPDATE availability
		SET booked_count = booked_count + 1
		WHERE avail_date = ? AND is_open = 1 AND booked_count < capacity
		RETURNING booked_count
	`, date.String()).Scan(&token)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to increment booked count: %w", err)
	}

	// Nothing matched: report why.
	a, gerr := s.Get(ctx, date)
	if gerr != nil {
		return 0, gerr
	}
	if !a.IsOpen {
		return 0, allocation.ErrDateClosed
	}
	return 0, allocation.ErrCapacityReached
}

func (s *queries) ListAvailability(ctx context.Context) ([]allocation.Availability, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT avail_date, is_open, capacity, booked_count
		FROM availability ORDER BY avail_date ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []allocation.Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER
// =============================================================================

const bookingColumns = `id, identity, subject_name, booking_date, token_number, status, provider, time_slot, created_at`

func (s *queries) Insert(ctx context.Context, b allocation.Booking) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID,
		b.Identity,
		b.SubjectName,
		b.Date.String(),
		b.TokenNumber,
		string(b.Status),
		b.Slot.Provider,
		b.Slot.TimeSlot,
		b.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if isTokenUniquenessError(err) {
				return allocation.ErrDuplicateToken
			}
			return allocation.ErrDuplicateIdentity
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (s *queries) ListForDate(ctx context.Context, date allocation.Date, filter allocation.StatusFilter) ([]allocation.Booking, error) {
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE booking_date = ? AND (? = '' OR status = ?)
		ORDER BY token_number ASC
	`, date.String(), string(filter), string(filter))
}

func (s *queries) ListAll(ctx context.Context) ([]allocation.Booking, error) {
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		ORDER BY booking_date ASC, token_number ASC
	`)
}

func (s *queries) CancelAllConfirmedFor(ctx context.Context, date allocation.Date) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE bookings SET status = ?
		WHERE booking_date = ? AND status = ?
	`, string(allocation.StatusCancelled), date.String(), string(allocation.StatusConfirmed))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel bookings: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *queries) FindByIdentity(ctx context.Context, identity string) ([]allocation.Booking, error) {
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE identity = ?
		ORDER BY booking_date DESC, token_number DESC
	`, identity)
}

func (s *queries) queryBookings(ctx context.Context, query string, args ...any) ([]allocation.Booking, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []allocation.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanAvailability(row scanner) (allocation.Availability, error) {
	var (
		a       allocation.Availability
		dateStr string
	)
	if err := row.Scan(&dateStr, &a.IsOpen, &a.Capacity, &a.BookedCount); err != nil {
		return allocation.Availability{}, err
	}
	date, err := allocation.ParseDate(dateStr)
	if err != nil {
		return allocation.Availability{}, err
	}
	a.Date = date
	return a, nil
}

func scanBooking(row scanner) (allocation.Booking, error) {
	var (
		b                  allocation.Booking
		dateStr, createdAt string
		status             string
	)
	err := row.Scan(&b.ID, &b.Identity, &b.SubjectName, &dateStr, &b.TokenNumber,
		&status, &b.Slot.Provider, &b.Slot.TimeSlot, &createdAt)
	if err != nil {
		return allocation.Booking{}, err
	}
	if b.Date, err = allocation.ParseDate(dateStr); err != nil {
		return allocation.Booking{}, err
	}
	b.Status = allocation.BookingStatus(status)
	if b.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return allocation.Booking{}, fmt.Errorf("booking %s created_at: %w", b.ID, err)
	}
	return b, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isTokenUniquenessError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "bookings.token_number")
}

var _ allocation.TxStore = (*Store)(nil)
