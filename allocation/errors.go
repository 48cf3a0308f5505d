/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All rejection reasons in one place. Every Book rejection is a
  *BookingError carrying an ErrorKind; the error unwraps to the matching
  sentinel so callers can use errors.Is without caring about the struct.

ERROR CATEGORIES:
  1. Client input:   missing_fields, invalid_identity, invalid_date
  2. Business rules: past_date, booking_window_closed, date_closed,
                     capacity_reached
  3. Ledger:         duplicate_identity (token is NOT reclaimed)
  4. Internal:       storage or lock failures

USAGE:
  if errors.Is(err, allocation.ErrCapacityReached) {
      // tell the patient the day is full
  }

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps kinds to HTTP status codes
*/
package allocation

import (
	"errors"
	"fmt"
)

// ErrorKind names a rejection reason. It is stable and safe to expose to clients.
type ErrorKind string

const (
	KindMissingFields     ErrorKind = "missing_fields"
	KindInvalidIdentity   ErrorKind = "invalid_identity"
	KindInvalidDate       ErrorKind = "invalid_date"
	KindPastDate          ErrorKind = "past_date"
	KindWindowClosed      ErrorKind = "booking_window_closed"
	KindDateClosed        ErrorKind = "date_closed"
	KindCapacityReached   ErrorKind = "capacity_reached"
	KindDuplicateIdentity ErrorKind = "duplicate_identity"
	KindInternal          ErrorKind = "internal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrMissingFields     = errors.New("required fields missing")
	ErrInvalidIdentity   = errors.New("invalid identity")
	ErrInvalidDate       = errors.New("invalid date format")
	ErrPastDate          = errors.New("cannot book a past date")
	ErrWindowClosed      = errors.New("booking window closed for today")
	ErrDateClosed        = errors.New("bookings closed for this date")
	ErrCapacityReached   = errors.New("all tokens booked for this date")
	ErrDuplicateIdentity = errors.New("identity already holds a booking")
	ErrInternal          = errors.New("internal failure")

	// ErrDuplicateToken is returned by a Ledger when (date, token) is taken.
	// The engine never produces it unless a store breaks linearizability.
	ErrDuplicateToken = errors.New("token already issued for date")

	// ErrAvailabilityNotFound is returned by AvailabilityStore.Get for unseen dates.
	ErrAvailabilityNotFound = errors.New("availability not found")

	// ErrLockTimeout is returned when the per-date lock cannot be acquired in time.
	ErrLockTimeout = errors.New("timed out waiting for date lock")
)

var kindSentinels = map[ErrorKind]error{
	KindMissingFields:     ErrMissingFields,
	KindInvalidIdentity:   ErrInvalidIdentity,
	KindInvalidDate:       ErrInvalidDate,
	KindPastDate:          ErrPastDate,
	KindWindowClosed:      ErrWindowClosed,
	KindDateClosed:        ErrDateClosed,
	KindCapacityReached:   ErrCapacityReached,
	KindDuplicateIdentity: ErrDuplicateIdentity,
	KindInternal:          ErrInternal,
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BookingError is the rejection of a single Book call.
type BookingError struct {
	Kind     ErrorKind
	Date     string
	Identity string
	Err      error // underlying cause, if any
}

func (e *BookingError) Error() string {
	sentinel := e.sentinel()
	msg := sentinel.Error()
	if e.Date != "" {
		msg = fmt.Sprintf("%s (date %s)", msg, e.Date)
	}
	if e.Err != nil && !errors.Is(e.Err, sentinel) {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *BookingError) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// sentinel maps Kind to its sentinel; unknown kinds read as internal.
func (e *BookingError) sentinel() error {
	if s, ok := kindSentinels[e.Kind]; ok {
		return s
	}
	return ErrInternal
}

func reject(kind ErrorKind, date, identity string, cause error) *BookingError {
	return &BookingError{Kind: kind, Date: date, Identity: identity, Err: cause}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf extracts the ErrorKind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var be *BookingError
	if errors.As(err, &be) {
		return be.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// IsClientError returns true if the request itself was malformed.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindMissingFields, KindInvalidIdentity, KindInvalidDate, KindPastDate:
		return true
	}
	return false
}

// IsConflict returns true if the request was well-formed but the date's
// state (or the ledger) refused it.
func IsConflict(err error) bool {
	switch KindOf(err) {
	case KindWindowClosed, KindDateClosed, KindCapacityReached, KindDuplicateIdentity:
		return true
	}
	return false
}
