package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/token-engine/allocation"
	"github.com/warp/token-engine/logging"
)

var june1 = allocation.MustParseDate("2025-06-01")

func newTestStore(t *testing.T, scope allocation.UniquenessScope) *Store {
	t.Helper()
	s, err := New(":memory:", scope)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func booking(id, identity string, date allocation.Date, token int) allocation.Booking {
	return allocation.Booking{
		ID:          id,
		Identity:    identity,
		SubjectName: "Patient " + id,
		Date:        date,
		TokenNumber: token,
		Status:      allocation.StatusConfirmed,
		Slot:        allocation.Slot{Provider: "Dr. Rao", TimeSlot: "17:30"},
		CreatedAt:   time.Date(2025, time.May, 30, 9, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// AVAILABILITY
// =============================================================================

func TestStore_GetOrCreate(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	_, err := s.Get(ctx, june1)
	assert.ErrorIs(t, err, allocation.ErrAvailabilityNotFound)

	a, err := s.GetOrCreate(ctx, june1, 25)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", a.Date.String())
	assert.True(t, a.IsOpen)
	assert.Equal(t, 25, a.Capacity)
	assert.Equal(t, 0, a.BookedCount)

	// A second reference keeps the stored capacity.
	again, err := s.GetOrCreate(ctx, june1, 99)
	require.NoError(t, err)
	assert.Equal(t, 25, again.Capacity)
}

func TestStore_IncrementBookedIsConditional(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	_, err := s.IncrementBooked(ctx, june1)
	assert.ErrorIs(t, err, allocation.ErrAvailabilityNotFound)

	_, err = s.GetOrCreate(ctx, june1, 2)
	require.NoError(t, err)

	for want := 1; want <= 2; want++ {
		token, err := s.IncrementBooked(ctx, june1)
		require.NoError(t, err)
		assert.Equal(t, want, token)
	}
	_, err = s.IncrementBooked(ctx, june1)
	assert.ErrorIs(t, err, allocation.ErrCapacityReached)

	require.NoError(t, s.CloseDate(ctx, june1, 2))
	_, err = s.IncrementBooked(ctx, june1)
	assert.ErrorIs(t, err, allocation.ErrDateClosed)

	a, err := s.Get(ctx, june1)
	require.NoError(t, err)
	assert.Equal(t, 2, a.BookedCount)
}

func TestStore_CloseAndReset(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	// Closing an unseen date creates it closed.
	require.NoError(t, s.CloseDate(ctx, june1, 25))
	require.NoError(t, s.CloseDate(ctx, june1, 25))
	a, err := s.Get(ctx, june1)
	require.NoError(t, err)
	assert.False(t, a.IsOpen)

	june2 := june1.AddDays(1)
	_, err = s.GetOrCreate(ctx, june2, 25)
	require.NoError(t, err)
	_, err = s.IncrementBooked(ctx, june2)
	require.NoError(t, err)

	require.NoError(t, s.ResetDate(ctx, june2, 30))
	require.NoError(t, s.ResetDate(ctx, june2, 30))
	a, err = s.Get(ctx, june2)
	require.NoError(t, err)
	assert.False(t, a.IsOpen)
	assert.Equal(t, 30, a.Capacity)
	assert.Equal(t, 0, a.BookedCount)

	all, err := s.ListAvailability(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2025-06-01", all[0].Date.String())
	assert.Equal(t, "2025-06-02", all[1].Date.String())
}

// =============================================================================
// LEDGER
// =============================================================================

func TestStore_InsertUniqueness(t *testing.T) {
	ctx := context.Background()
	june2 := june1.AddDays(1)

	tests := []struct {
		scope        allocation.UniquenessScope
		sameDayDup   error
		otherDateDup error
	}{
		{allocation.UniquePerDate, allocation.ErrDuplicateIdentity, nil},
		{allocation.UniqueGlobal, allocation.ErrDuplicateIdentity, allocation.ErrDuplicateIdentity},
		{allocation.UniqueNone, nil, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			s := newTestStore(t, tt.scope)
			require.NoError(t, s.Insert(ctx, booking("a", "9876543210", june1, 1)))

			err := s.Insert(ctx, booking("b", "9876543210", june1, 2))
			if tt.sameDayDup == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.sameDayDup)
			}

			err = s.Insert(ctx, booking("c", "9876543210", june2, 1))
			if tt.otherDateDup == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.otherDateDup)
			}

			err = s.Insert(ctx, booking("d", "1111111111", june1, 1))
			assert.ErrorIs(t, err, allocation.ErrDuplicateToken)
		})
	}
}

func TestStore_ListingsAndCancel(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	june2 := june1.AddDays(1)

	require.NoError(t, s.Insert(ctx, booking("b2", "2222222222", june2, 1)))
	require.NoError(t, s.Insert(ctx, booking("a2", "2222222222", june1, 2)))
	require.NoError(t, s.Insert(ctx, booking("a1", "1111111111", june1, 1)))

	day, err := s.ListForDate(ctx, june1, allocation.AnyStatus)
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, "a1", day[0].ID)
	assert.Equal(t, "a2", day[1].ID)
	assert.Equal(t, "Dr. Rao", day[0].Slot.Provider)
	assert.Equal(t, "17:30", day[0].Slot.TimeSlot)
	assert.True(t, day[0].CreatedAt.Equal(time.Date(2025, time.May, 30, 9, 0, 0, 0, time.UTC)))

	n, err := s.CancelAllConfirmedFor(ctx, june1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.CancelAllConfirmedFor(ctx, june1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	cancelled, err := s.ListForDate(ctx, june1, allocation.OnlyCancelled)
	require.NoError(t, err)
	assert.Len(t, cancelled, 2)
	confirmed, err := s.ListForDate(ctx, june2, allocation.OnlyConfirmed)
	require.NoError(t, err)
	assert.Len(t, confirmed, 1)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, b := range all {
		ids[i] = b.ID
	}
	assert.Equal(t, []string{"a1", "a2", "b2"}, ids)

	mine, err := s.FindByIdentity(ctx, "2222222222")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "b2", mine[0].ID)
	assert.Equal(t, allocation.StatusCancelled, mine[1].Status)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, booking("a1", "1111111111", june1, 1)))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx allocation.Store) error {
		require.NoError(t, tx.CloseDate(ctx, june1, 25))
		_, err := tx.CancelAllConfirmedFor(ctx, june1)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, june1)
	assert.ErrorIs(t, err, allocation.ErrAvailabilityNotFound)
	confirmed, err := s.ListForDate(ctx, june1, allocation.OnlyConfirmed)
	require.NoError(t, err)
	assert.Len(t, confirmed, 1)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := t.TempDir() + "/tokens.db"
	ctx := context.Background()

	s, err := New(path, allocation.UniquePerDate)
	require.NoError(t, err)
	_, err = s.GetOrCreate(ctx, june1, 25)
	require.NoError(t, err)
	_, err = s.IncrementBooked(ctx, june1)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, booking("a1", "1111111111", june1, 1)))
	require.NoError(t, s.Close())

	// Reopening with global scope swaps the identity index.
	s, err = New(path, allocation.UniqueGlobal)
	require.NoError(t, err)
	defer s.Close()

	a, err := s.Get(ctx, june1)
	require.NoError(t, err)
	assert.Equal(t, 1, a.BookedCount)
	err = s.Insert(ctx, booking("b1", "1111111111", june1.AddDays(1), 1))
	assert.ErrorIs(t, err, allocation.ErrDuplicateIdentity)
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestEngine_ConcurrentBookingsOnSQLite(t *testing.T) {
	s := newTestStore(t, "")
	policy := allocation.DefaultPolicy()
	policy.Capacity = 5
	policy.Window.Location = time.UTC

	engine, err := allocation.NewEngine(s, policy,
		allocation.WithClock(allocation.ClockFunc(func() time.Time {
			return time.Date(2025, time.May, 30, 10, 0, 0, 0, time.UTC)
		})),
		allocation.WithLogger(logging.Discard()))
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens []int
		full   int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := engine.Book(context.Background(), allocation.BookRequest{
				Identity:    fmt.Sprintf("98765%05d", i),
				SubjectName: "Patient",
				Date:        "2025-06-01",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				tokens = append(tokens, b.TokenNumber)
			} else if assert.ErrorIs(t, err, allocation.ErrCapacityReached) {
				full++
			}
		}(i)
	}
	wg.Wait()

	sort.Ints(tokens)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, tokens)
	assert.Equal(t, 7, full)

	n, err := engine.CancelToday(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "bookings are for tomorrow")
}

// =============================================================================
// DRIVER FAILURES
// =============================================================================

func TestStore_DriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := Open(db, allocation.UniquePerDate)
	ctx := context.Background()

	mock.ExpectQuery("UPDATE availability").
		WillReturnError(errors.New("disk I/O error"))
	_, err = s.IncrementBooked(ctx, june1)
	assert.ErrorContains(t, err, "disk I/O error")

	mock.ExpectExec("INSERT INTO bookings").
		WillReturnError(errors.New("UNIQUE constraint failed: bookings.identity, bookings.booking_date"))
	err = s.Insert(ctx, booking("a", "9876543210", june1, 1))
	assert.ErrorIs(t, err, allocation.ErrDuplicateIdentity)

	mock.ExpectExec("INSERT INTO bookings").
		WillReturnError(errors.New("UNIQUE constraint failed: bookings.booking_date, bookings.token_number"))
	err = s.Insert(ctx, booking("a", "9876543210", june1, 1))
	assert.ErrorIs(t, err, allocation.ErrDuplicateToken)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO availability").WillReturnError(errors.New("locked"))
	mock.ExpectRollback()
	err = s.WithTx(ctx, func(tx allocation.Store) error {
		return tx.CloseDate(ctx, june1, 25)
	})
	assert.ErrorContains(t, err, "locked")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CorruptCreatedAt(t *testing.T) {
	s := newTestStore(t, allocation.UniquePerDate)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, booking("a1", "1111111111", june1, 1)))

	_, err := s.db.ExecContext(ctx, `UPDATE bookings SET created_at = 'yesterday-ish' WHERE id = 'a1'`)
	require.NoError(t, err)

	_, err = s.ListForDate(ctx, june1, allocation.AnyStatus)
	assert.ErrorContains(t, err, "booking a1 created_at")
}
