/*
Package allocation provides the token allocation and availability engine.

PURPOSE:
  For a given calendar date the engine hands out sequentially numbered
  tokens (queue numbers) to patients requesting an appointment, subject to
  a per-date capacity, a per-date open/closed toggle, a same-day booking
  window and an identity uniqueness constraint.

KEY CONCEPTS IN THIS FILE (types.go):
  - Availability: per-date {open, capacity, booked count}
  - Booking:      one issued token, keyed by a generated ID
  - Slot:         requested provider/time metadata, passed through untouched

CENTRAL INVARIANT:
  For a fixed date the confirmed token numbers form [1, BookedCount] with
  no duplicates. BookedCount counts tokens ISSUED, not active bookings:
  cancellation and duplicate-identity failures never give a token back.

LIFECYCLE OF A DATE:
  Unseen -> Open(0) -> Open(k) -> ... -> Open(capacity)
  Closed is reachable from any Open state via admin action and is never
  left automatically.

SEE ALSO:
  - engine.go: Book, the only write path for bookings
  - admin.go:  Disable, close and bulk cancellation
  - store.go:  Persistence contracts
*/
package allocation

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AVAILABILITY - Per-date capacity and counter
// =============================================================================

// Availability is the per-date record. One exists per date once referenced.
type Availability struct {
	Date        Date
	IsOpen      bool
	Capacity    int
	BookedCount int
}

// NewAvailability returns the default record for an unseen date.
func NewAvailability(date Date, capacity int) Availability {
	return Availability{Date: date, IsOpen: true, Capacity: capacity}
}

// CanBook reports whether another token may be issued.
func (a Availability) CanBook() bool {
	return a.IsOpen && a.BookedCount < a.Capacity
}

// Remaining returns the number of tokens still available.
func (a Availability) Remaining() int {
	if a.BookedCount >= a.Capacity {
		return 0
	}
	return a.Capacity - a.BookedCount
}

// Utilization returns issued tokens as a percentage of capacity, rounded to 1 dp.
func (a Availability) Utilization() decimal.Decimal {
	if a.Capacity <= 0 {
		return decimal.Zero
	}
	booked := decimal.NewFromInt(int64(a.BookedCount))
	return booked.Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(a.Capacity))).
		Round(1)
}

// =============================================================================
// BOOKING - One issued token
// =============================================================================

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
)

// StatusFilter restricts listings by status. The zero value matches everything.
type StatusFilter string

const (
	AnyStatus     StatusFilter = ""
	OnlyConfirmed StatusFilter = StatusFilter(StatusConfirmed)
	OnlyCancelled StatusFilter = StatusFilter(StatusCancelled)
)

// Matches reports whether status passes the filter.
func (f StatusFilter) Matches(status BookingStatus) bool {
	return f == AnyStatus || BookingStatus(f) == status
}

// Slot is the requested slot metadata. The engine passes it through.
type Slot struct {
	Provider string // doctor / provider label
	TimeSlot string
}

// Booking is a ledger row.
type Booking struct {
	ID          string
	Identity    string
	SubjectName string
	Date        Date
	TokenNumber int
	Status      BookingStatus
	Slot        Slot
	CreatedAt   time.Time
}

// BookRequest carries the raw, unvalidated fields of a booking attempt.
type BookRequest struct {
	Identity    string
	SubjectName string
	Date        string // ISO 8601 calendar date
	Slot        Slot
}

// Stats are the admin dashboard counters.
type Stats struct {
	Total     int
	Today     int
	Cancelled int
}

// Result is the outcome of one Book call as the request layer reports it.
type Result struct {
	Success bool
	Token   int
	Booking Booking
	Kind    ErrorKind // empty on success
}

// ResultOf folds Book's return values into a Result.
func ResultOf(b Booking, err error) Result {
	if err != nil {
		return Result{Kind: KindOf(err)}
	}
	return Result{Success: true, Token: b.TokenNumber, Booking: b}
}
