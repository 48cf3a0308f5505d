/*
store.go - Persistence contracts for availability and bookings

PURPOSE:
  Defines the single dependency seam between the engine and storage.
  Implementations:
  - allocation/store/memory.go: in-memory (tests, single-process dev)
  - store/sqlite/sqlite.go:     SQLite via database/sql
  - store/postgres/postgres.go: PostgreSQL via pgx

SERIALIZATION POINT:
  IncrementBooked is the only contended write. It must be linearizable per
  date: no two callers may get the same token. Implementations make it a
  conditional increment so a closed or full date is never oversold even if
  a caller skipped the engine's pre-check.

UNIQUENESS:
  - availability: unique on date (GetOrCreate re-fetches on conflict)
  - bookings:     unique on (date, token); identity per UniquenessScope

SEE ALSO:
  - engine.go: Orders the calls so failures never double count
*/
package allocation

import "context"

// AvailabilityStore persists the per-date records.
type AvailabilityStore interface {
	// GetOrCreate returns the record for date, inserting {open, capacity, 0}
	// when absent. Concurrent first references must not create duplicates.
	GetOrCreate(ctx context.Context, date Date, capacity int) (Availability, error)

	// Get returns ErrAvailabilityNotFound for dates never referenced.
	Get(ctx context.Context, date Date) (Availability, error)

	// CloseDate sets IsOpen=false, creating a closed record when absent.
	CloseDate(ctx context.Context, date Date, capacity int) error

	// ResetDate replaces the record with {closed, capacity, 0}.
	ResetDate(ctx context.Context, date Date, capacity int) error

	// IncrementBooked atomically issues the next token for date.
	// Returns ErrDateClosed or ErrCapacityReached without mutating when the
	// record cannot take another booking.
	IncrementBooked(ctx context.Context, date Date) (int, error)

	// ListAvailability returns every known record ordered by date.
	ListAvailability(ctx context.Context) ([]Availability, error)
}

// Ledger persists booking rows. Rows are never deleted; only the
// confirmed -> cancelled transition is allowed.
type Ledger interface {
	// Insert stores a confirmed booking. Returns ErrDuplicateIdentity or
	// ErrDuplicateToken on constraint violations.
	Insert(ctx context.Context, b Booking) error

	// ListForDate returns bookings for date ordered by token ascending.
	ListForDate(ctx context.Context, date Date, filter StatusFilter) ([]Booking, error)

	// ListAll returns every booking ordered by (date, token).
	ListAll(ctx context.Context) ([]Booking, error)

	// CancelAllConfirmedFor cancels every confirmed booking on date and
	// returns how many changed.
	CancelAllConfirmedFor(ctx context.Context, date Date) (int, error)

	// FindByIdentity returns the identity's bookings, newest date first.
	FindByIdentity(ctx context.Context, identity string) ([]Booking, error)
}

// Store is the full persistence dependency of the engine.
type Store interface {
	AvailabilityStore
	Ledger
}

// TxStore adds all-or-nothing execution of several Store calls.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Locker serializes work per key (the ISO date).
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
