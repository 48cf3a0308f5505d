/*
engine.go - Token allocation for a single booking request

PURPOSE:
  Book is the only way a booking comes into existence. It validates the
  raw request, serializes on the requested date, issues the next token and
  records the booking, then hands the confirmation to the dispatcher.

BOOK FLOW:
  1. Required fields present            -> missing_fields
  2. Identity shape                     -> invalid_identity
  3. Date parses                        -> invalid_date
  4. Date window (injected clock)       -> past_date / booking_window_closed
  5. Per-date lock held:
       GetOrCreate                      -> date_closed / capacity_reached
       IncrementBooked                  -> token
  6. Ledger insert                      -> duplicate_identity
  7. Dispatch confirmation (async, after the lock is released)

ORDERING GUARANTEES:
  Steps 1-4 mutate nothing. The capacity check and the increment run under
  the same per-date lock, and the store increment is itself conditional, so
  a date never issues more tokens than its capacity and never issues the
  same token twice. Requests for different dates never share a lock.

KNOWN GAP (kept on purpose, asserted by tests):
  When step 6 fails on identity uniqueness the token from step 5 is not
  reclaimed. BookedCount stays incremented and the token number is skipped.

SEE ALSO:
  - admin.go: Operations that close, reset and cancel
  - notifier.go: Dispatcher
*/
package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/warp/token-engine/lock"
	"github.com/warp/token-engine/logging"
)

var tracer = otel.Tracer("github.com/warp/token-engine/allocation")

// DefaultLockTimeout bounds how long Book waits for a busy date.
const DefaultLockTimeout = 5 * time.Second

// Engine allocates tokens. It is safe for concurrent use.
type Engine struct {
	store       Store
	policy      Policy
	clock       Clock
	locker      Locker
	lockTimeout time.Duration
	dispatcher  *Dispatcher
	logger      *logging.Logger
	metrics     Metrics
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the wall clock used for date-window checks.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLocker replaces the in-process per-date lock.
func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

// WithLockTimeout bounds lock acquisition.
func WithLockTimeout(d time.Duration) Option { return func(e *Engine) { e.lockTimeout = d } }

// WithDispatcher sets where confirmations go. Without one nothing is sent.
func WithDispatcher(d *Dispatcher) Option { return func(e *Engine) { e.dispatcher = d } }

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics records booking and admin outcomes.
func WithMetrics(m Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithIDGenerator overrides booking ID generation (uuid v4 by default).
func WithIDGenerator(f func() string) Option { return func(e *Engine) { e.newID = f } }

// NewEngine builds an engine over store using policy.
func NewEngine(store Store, policy Policy, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("allocation: store is required")
	}
	if err := policy.Compile(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:       store,
		policy:      policy,
		clock:       SystemClock{},
		locker:      lock.NewKeyed(),
		lockTimeout: DefaultLockTimeout,
		metrics:     nopMetrics{},
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Default()
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.lockTimeout <= 0 {
		e.lockTimeout = DefaultLockTimeout
	}
	return e, nil
}

// Policy returns a copy of the engine's policy.
func (e *Engine) Policy() Policy { return e.policy }

// Today returns the current calendar day in the policy location.
func (e *Engine) Today() Date { return e.policy.Today(e.clock.Now()) }

// Book validates req and issues the next token for its date.
// Rejections are *BookingError values; see errors.go for the kinds.
func (e *Engine) Book(ctx context.Context, req BookRequest) (booking Booking, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "allocation.Book")
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetAttributes(attribute.Int("booking.token", booking.TokenNumber))
		}
		span.SetAttributes(attribute.String("booking.outcome", outcome))
		span.End()
		e.metrics.ObserveBooking(outcome, time.Since(started))
	}()

	identity := strings.TrimSpace(req.Identity)
	name := strings.TrimSpace(req.SubjectName)
	rawDate := strings.TrimSpace(req.Date)
	slot := Slot{
		Provider: strings.TrimSpace(req.Slot.Provider),
		TimeSlot: strings.TrimSpace(req.Slot.TimeSlot),
	}
	span.SetAttributes(attribute.String("booking.date", rawDate))

	if identity == "" || name == "" || rawDate == "" {
		return Booking{}, reject(KindMissingFields, rawDate, identity, nil)
	}
	if e.policy.RequireSlot && (slot.Provider == "" || slot.TimeSlot == "") {
		return Booking{}, reject(KindMissingFields, rawDate, identity, nil)
	}
	if !e.policy.ValidIdentity(identity) {
		return Booking{}, reject(KindInvalidIdentity, rawDate, identity, nil)
	}
	date, perr := ParseDate(rawDate)
	if perr != nil {
		return Booking{}, reject(KindInvalidDate, rawDate, identity, perr)
	}
	if kind := e.policy.CheckDate(date, e.clock.Now()); kind != "" {
		return Booking{}, reject(kind, date.String(), identity, nil)
	}
	if slot.Provider == "" {
		slot.Provider = e.policy.DefaultProvider
	}

	token, err := e.issueToken(ctx, date, identity)
	if err != nil {
		return Booking{}, err
	}

	booking = Booking{
		ID:          e.newID(),
		Identity:    identity,
		SubjectName: name,
		Date:        date,
		TokenNumber: token,
		Status:      StatusConfirmed,
		Slot:        slot,
		CreatedAt:   e.clock.Now().UTC(),
	}
	if ierr := e.store.Insert(ctx, booking); ierr != nil {
		if errors.Is(ierr, ErrDuplicateIdentity) {
			e.logger.Warn("allocation: duplicate identity, token not reclaimed",
				"date", date.String(), "token", token)
			return Booking{}, reject(KindDuplicateIdentity, date.String(), identity, ierr)
		}
		return Booking{}, reject(KindInternal, date.String(), identity, fmt.Errorf("insert booking: %w", ierr))
	}

	e.logger.Info("allocation: token issued", "date", date.String(), "token", token)
	e.dispatcher.Dispatch(ctx, booking, slot.Provider)
	return booking, nil
}

// issueToken runs the check-and-increment critical section for date.
func (e *Engine) issueToken(ctx context.Context, date Date, identity string) (int, error) {
	key := date.String()
	unlock, err := e.lockDate(ctx, key)
	if err != nil {
		return 0, reject(KindInternal, key, identity, err)
	}
	defer unlock()

	avail, err := e.store.GetOrCreate(ctx, date, e.policy.Capacity)
	if err != nil {
		return 0, reject(KindInternal, key, identity, fmt.Errorf("load availability: %w", err))
	}
	if !avail.IsOpen {
		return 0, reject(KindDateClosed, key, identity, nil)
	}
	if avail.BookedCount >= avail.Capacity {
		return 0, reject(KindCapacityReached, key, identity, nil)
	}

	token, err := e.store.IncrementBooked(ctx, date)
	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, ErrDateClosed):
		return 0, reject(KindDateClosed, key, identity, nil)
	case errors.Is(err, ErrCapacityReached):
		return 0, reject(KindCapacityReached, key, identity, nil)
	default:
		return 0, reject(KindInternal, key, identity, fmt.Errorf("increment booked: %w", err))
	}
}

// lockDate acquires the per-date lock within the configured timeout.
func (e *Engine) lockDate(ctx context.Context, key string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()

	unlock, err := e.locker.Lock(lockCtx, key)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		return nil, fmt.Errorf("lock date %s: %w", key, err)
	}
	return unlock, nil
}
