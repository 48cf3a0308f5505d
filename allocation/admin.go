package allocation

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// DisableDate forces date to Closed and resets it to {configured capacity,
// 0 booked}. This erases the issued-token counter; bookings already in the
// ledger are left as they are. Idempotent.
func (e *Engine) DisableDate(ctx context.Context, date Date) error {
	ctx, span := tracer.Start(ctx, "allocation.DisableDate")
	defer span.End()
	span.SetAttributes(attribute.String("booking.date", date.String()))

	unlock, err := e.lockDate(ctx, date.String())
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.store.ResetDate(ctx, date, e.policy.Capacity); err != nil {
		span.RecordError(err)
		return fmt.Errorf("disable date %s: %w", date, err)
	}
	e.metrics.ObserveAdmin("disable_date", 0)
	e.logger.Info("allocation: date disabled", "date", date.String())
	return nil
}

// CloseDate stops new bookings for date while keeping its counter.
func (e *Engine) CloseDate(ctx context.Context, date Date) error {
	ctx, span := tracer.Start(ctx, "allocation.CloseDate")
	defer span.End()
	span.SetAttributes(attribute.String("booking.date", date.String()))

	unlock, err := e.lockDate(ctx, date.String())
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.store.CloseDate(ctx, date, e.policy.Capacity); err != nil {
		span.RecordError(err)
		return fmt.Errorf("close date %s: %w", date, err)
	}
	e.metrics.ObserveAdmin("close_date", 0)
	e.logger.Info("allocation: date closed", "date", date.String())
	return nil
}

// CancelToday closes today and cancels all of today's confirmed bookings.
// It returns how many bookings changed; a second call returns 0.
// Other dates are never touched.
func (e *Engine) CancelToday(ctx context.Context) (int, error) {
	today := e.Today()
	ctx, span := tracer.Start(ctx, "allocation.CancelToday")
	defer span.End()
	span.SetAttributes(attribute.String("booking.date", today.String()))

	unlock, err := e.lockDate(ctx, today.String())
	if err != nil {
		return 0, err
	}
	defer unlock()

	var affected int
	cancelAll := func(s Store) error {
		if err := s.CloseDate(ctx, today, e.policy.Capacity); err != nil {
			return err
		}
		n, err := s.CancelAllConfirmedFor(ctx, today)
		if err != nil {
			return err
		}
		affected = n
		return nil
	}

	if txs, ok := e.store.(TxStore); ok {
		err = txs.WithTx(ctx, cancelAll)
	} else {
		err = cancelAll(e.store)
	}
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("cancel today %s: %w", today, err)
	}

	span.SetAttributes(attribute.Int("booking.cancelled", affected))
	e.metrics.ObserveAdmin("cancel_today", affected)
	e.logger.Info("allocation: today cancelled", "date", today.String(), "affected", affected)
	return affected, nil
}

// ListBookings returns one date's bookings ordered by token, or every
// booking ordered by (date, token) when date is nil.
func (e *Engine) ListBookings(ctx context.Context, date *Date, filter StatusFilter) ([]Booking, error) {
	if date != nil {
		return e.store.ListForDate(ctx, *date, filter)
	}
	all, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if filter == AnyStatus {
		return all, nil
	}
	out := make([]Booking, 0, len(all))
	for _, b := range all {
		if filter.Matches(b.Status) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Availability reports the state of date without creating a record.
// Unseen dates are reported with the policy defaults.
func (e *Engine) Availability(ctx context.Context, date Date) (Availability, error) {
	a, err := e.store.Get(ctx, date)
	if errors.Is(err, ErrAvailabilityNotFound) {
		return NewAvailability(date, e.policy.Capacity), nil
	}
	return a, err
}

// ListAvailability returns every date that has been referenced.
func (e *Engine) ListAvailability(ctx context.Context) ([]Availability, error) {
	return e.store.ListAvailability(ctx)
}

// LookupIdentity returns an identity's bookings, newest date first.
func (e *Engine) LookupIdentity(ctx context.Context, identity string) ([]Booking, error) {
	return e.store.FindByIdentity(ctx, identity)
}

// Stats returns the dashboard counters.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	all, err := e.store.ListAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	today := e.Today()
	stats := Stats{Total: len(all)}
	for _, b := range all {
		if b.Date.Equal(today) {
			stats.Today++
		}
		if b.Status == StatusCancelled {
			stats.Cancelled++
		}
	}
	return stats, nil
}
