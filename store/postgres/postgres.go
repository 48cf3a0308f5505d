/*
Package postgres provides a PostgreSQL-backed allocation.Store using pgx.

PURPOSE:
  The store for deployments that run more than one engine process against
  one database. Every write that matters is a single statement, so the
  token counter stays correct even when two processes hold their own
  in-process date locks.

TOKEN ISSUE:
  UPDATE availability SET booked_count = booked_count + 1
  WHERE avail_date = $1 AND is_open AND booked_count < capacity
  RETURNING booked_count

  Postgres row locks serialize concurrent increments on one date; requests
  for different dates touch different rows.

CONSTRAINTS:
  availability_pkey        avail_date
  bookings_date_token_key  (booking_date, token_number)
  identity index per UniquenessScope (see Migrate)

  Unique violations (SQLSTATE 23505) are mapped to allocation sentinels by
  constraint name.

SEE ALSO:
  - allocation/store.go: Interface definitions
  - store/sqlite: Single-process equivalent
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/token-engine/allocation"
)

const (
	uniqueViolation = "23505"

	tokenConstraint = "bookings_date_token_key"
)

// querier is the subset of pgx shared by pools, connections and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// db is satisfied by *pgxpool.Pool and pgxmock pools.
type db interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type queries struct {
	q querier
}

// Store implements allocation.TxStore on PostgreSQL.
type Store struct {
	queries
	db    db
	scope allocation.UniquenessScope
}

// NewStore wraps a pool. Call Migrate once before serving.
func NewStore(pool db, scope allocation.UniquenessScope) *Store {
	if scope == "" {
		scope = allocation.UniquePerDate
	}
	return &Store{queries: queries{q: pool}, db: pool, scope: scope}
}

// Connect opens a pgx pool for databaseURL and migrates the schema.
func Connect(ctx context.Context, databaseURL string, scope allocation.UniquenessScope) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := NewStore(pool, scope)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return store, pool, nil
}

// Migrate creates the tables and the identity index for the store's scope.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS availability (
			avail_date DATE PRIMARY KEY,
			is_open BOOLEAN NOT NULL DEFAULT TRUE,
			capacity INTEGER NOT NULL CHECK (capacity > 0),
			booked_count INTEGER NOT NULL DEFAULT 0 CHECK (booked_count >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			identity TEXT NOT NULL,
			subject_name TEXT NOT NULL,
			booking_date DATE NOT NULL,
			token_number INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'confirmed',
			provider TEXT NOT NULL DEFAULT '',
			time_slot TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT ` + tokenConstraint + ` UNIQUE (booking_date, token_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_identity ON bookings (identity)`,
	}
	switch s.scope {
	case allocation.UniqueGlobal:
		statements = append(statements,
			`DROP INDEX IF EXISTS idx_bookings_identity_date`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_identity_global ON bookings (identity)`)
	case allocation.UniqueNone:
		statements = append(statements,
			`DROP INDEX IF EXISTS idx_bookings_identity_date`,
			`DROP INDEX IF EXISTS idx_bookings_identity_global`)
	default:
		statements = append(statements,
			`DROP INDEX IF EXISTS idx_bookings_identity_global`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_identity_date ON bookings (identity, booking_date)`)
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// WithTx executes fn within a transaction.
// If fn returns error, the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(allocation.Store) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&queries{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// =============================================================================
// AVAILABILITY
// =============================================================================

func (s *queries) GetOrCreate(ctx context.Context, date allocation.Date, capacity int) (allocation.Availability, error) {
	_, err := s.q.Exec(ctx, `
		INSERT INTO availability (avail_date, is_open, capacity, booked_count)
		VALUES ($1, TRUE, $2, 0)
		ON CONFLICT (avail_date) DO NOTHING
	`, date.Time, capacity)
	if err != nil {
		return allocation.Availability{}, fmt.Errorf("create availability: %w", err)
	}
	return s.Get(ctx, date)
}

func (s *queries) Get(ctx context.Context, date allocation.Date) (allocation.Availability, error) {
	row := s.q.QueryRow(ctx, `
		SELECT avail_date, is_open, capacity, booked_count
		FROM availability WHERE avail_date = $1
	`, date.Time)
	a, err := scanAvailability(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return allocation.Availability{}, allocation.ErrAvailabilityNotFound
	}
	return a, err
}

func (s *queries) CloseDate(ctx context.Context, date allocation.Date, capacity int) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO availability (avail_date, is_open, capacity, booked_count)
		VALUES ($1, FALSE, $2, 0)
		ON CONFLICT (avail_date) DO UPDATE SET is_open = FALSE
	`, date.Time, capacity)
	return err
}

func (s *queries) ResetDate(ctx context.Context, date allocation.Date, capacity int) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO availability (avail_date, is_open, capacity, booked_count)
		VALUES ($1, FALSE, $2, 0)
		ON CONFLICT (avail_date) DO UPDATE
		SET is_open = FALSE, capacity = EXCLUDED.capacity, booked_count = 0
	`, date.Time, capacity)
	return err
}

func (s *queries) IncrementBooked(ctx context.Context, date allocation.Date) (int, error) {
	var token int
	err := s.q.QueryRow(ctx, `
		UPDATE availability
		SET booked_count = booked_count + 1
		WHERE avail_date = $1 AND is_open AND booked_count < capacity
		RETURNING booked_count
	`, date.Time).Scan(&token)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("increment booked count: %w", err)
	}

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
	rows, err := s.q.Query(ctx, `
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
	_, err := s.q.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, b.ID, b.Identity, b.SubjectName, b.Date.Time, b.TokenNumber,
		string(b.Status), b.Slot.Provider, b.Slot.TimeSlot, b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == tokenConstraint {
				return allocation.ErrDuplicateToken
			}
			return allocation.ErrDuplicateIdentity
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *queries) ListForDate(ctx context.Context, date allocation.Date, filter allocation.StatusFilter) ([]allocation.Booking, error) {
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE booking_date = $1 AND ($2 = '' OR status = $2)
		ORDER BY token_number ASC
	`, date.Time, string(filter))
}

func (s *queries) ListAll(ctx context.Context) ([]allocation.Booking, error) {
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		ORDER BY booking_date ASC, token_number ASC
	`)
}

func (s *queries) CancelAllConfirmedFor(ctx context.Context, date allocation.Date) (int, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE bookings SET status = $1
		WHERE booking_date = $2 AND status = $3
	`, string(allocation.StatusCancelled), date.Time, string(allocation.StatusConfirmed))
	if err != nil {
		return 0, fmt.Errorf("cancel bookings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *queries) FindByIdentity(ctx context.Context, identity string) ([]allocation.Booking, error) {
	return s.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE identity = $1
		ORDER BY booking_date DESC, token_number DESC
	`, identity)
}

func (s *queries) queryBookings(ctx context.Context, query string, args ...any) ([]allocation.Booking, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []allocation.Booking
	for rows.Next() {
		var (
			b      allocation.Booking
			date   time.Time
			status string
		)
		if err := rows.Scan(&b.ID, &b.Identity, &b.SubjectName, &date, &b.TokenNumber,
			&status, &b.Slot.Provider, &b.Slot.TimeSlot, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Date = allocation.DateOf(date)
		b.Status = allocation.BookingStatus(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanAvailability(row pgx.Row) (allocation.Availability, error) {
	var (
		a    allocation.Availability
		date time.Time
	)
	if err := row.Scan(&date, &a.IsOpen, &a.Capacity, &a.BookedCount); err != nil {
		return allocation.Availability{}, err
	}
	a.Date = allocation.DateOf(date)
	return a, nil
}

var _ allocation.TxStore = (*Store)(nil)
