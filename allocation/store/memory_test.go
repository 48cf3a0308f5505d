package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/token-engine/allocation"
	"github.com/warp/token-engine/allocation/store"
)

var june1 = allocation.NewDate(2025, time.June, 1)

func booking(identity string, date allocation.Date, token int) allocation.Booking {
	return allocation.Booking{
		ID:          identity + "-" + date.String(),
		Identity:    identity,
		SubjectName: "Patient " + identity,
		Date:        date,
		TokenNumber: token,
		Status:      allocation.StatusConfirmed,
		CreatedAt:   time.Date(2025, 5, 30, 9, 0, 0, 0, time.UTC),
	}
}

func TestMemory_GetOrCreateDefaults(t *testing.T) {
	m := store.NewMemory(allocation.UniquePerDate)
	ctx := context.Background()

	_, err := m.Get(ctx, june1)
	assert.ErrorIs(t, err, allocation.ErrAvailabilityNotFound)

	a, err := m.GetOrCreate(ctx, june1, 25)
	require.NoError(t, err)
	assert.Equal(t, allocation.Availability{Date: june1, IsOpen: true, Capacity: 25}, a)

	// Capacity of an existing record is not overwritten.
	a, err = m.GetOrCreate(ctx, june1, 99)
	require.NoError(t, err)
	assert.Equal(t, 25, a.Capacity)
}

func TestMemory_ConcurrentGetOrCreateMakesOneRecord(t *testing.T) {
	m := store.NewMemory(allocation.UniquePerDate)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.GetOrCreate(ctx, june1, 25)
		}()
	}
	wg.Wait()

	all, err := m.ListAvailability(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemory_IncrementBookedIsConditional(t *testing.T) {
	m := store.NewMemory(allocation.UniquePerDate)
	ctx := context.Background()

	_, err := m.IncrementBooked(ctx, june1)
	assert.ErrorIs(t, err, allocation.ErrAvailabilityNotFound)

	_, err = m.GetOrCreate(ctx, june1, 2)
	require.NoError(t, err)

	tok, err := m.IncrementBooked(ctx, june1)
	require.NoError(t, err)
	assert.Equal(t, 1, tok)
	tok, err = m.IncrementBooked(ctx, june1)
	require.NoError(t, err)
	assert.Equal(t, 2, tok)

	_, err = m.IncrementBooked(ctx, june1)
	assert.ErrorIs(t, err, allocation.ErrCapacityReached)

	require.NoError(t, m.CloseDate(ctx, june1, 2))
	_, err = m.IncrementBooked(ctx, june1)
	assert.ErrorIs(t, err, allocation.ErrDateClosed)
}

func TestMemory_CloseAndReset(t *testing.T) {
	m := store.NewMemory(allocation.UniquePerDate)
	ctx := context.Background()

	// Closing an unseen date creates it closed.
	require.NoError(t, m.CloseDate(ctx, june1, 25))
	a, err := m.Get(ctx, june1)
	require.NoError(t, err)
	assert.False(t, a.IsOpen)
	assert.Equal(t, 25, a.Capacity)

	june2 := june1.AddDays(1)
	_, err = m.GetOrCreate(ctx, june2, 5)
	require.NoError(t, err)
	_, err = m.IncrementBooked(ctx, june2)
	require.NoError(t, err)

	require.NoError(t, m.ResetDate(ctx, june2, 25))
	a, err = m.Get(ctx, june2)
	require.NoError(t, err)
	assert.Equal(t, allocation.Availability{Date: june2, IsOpen: false, Capacity: 25, BookedCount: 0}, a)

	// Idempotent.
	require.NoError(t, m.ResetDate(ctx, june2, 25))
	require.NoError(t, m.CloseDate(ctx, june1, 25))
}

func TestMemory_InsertUniqueness(t *testing.T) {
	ctx := context.Background()
	june2 := june1.AddDays(1)

	t.Run("per date", func(t *testing.T) {
		m := store.NewMemory(allocation.UniquePerDate)
		require.NoError(t, m.Insert(ctx, booking("9876543210", june1, 1)))
		assert.ErrorIs(t, m.Insert(ctx, booking("9876543210", june1, 2)), allocation.ErrDuplicateIdentity)
		assert.NoError(t, m.Insert(ctx, booking("9876543210", june2, 1)))
	})

	t.Run("global", func(t *testing.T) {
		m := store.NewMemory(allocation.UniqueGlobal)
		require.NoError(t, m.Insert(ctx, booking("9876543210", june1, 1)))
		assert.ErrorIs(t, m.Insert(ctx, booking("9876543210", june2, 1)), allocation.ErrDuplicateIdentity)
	})

	t.Run("none", func(t *testing.T) {
		m := store.NewMemory(allocation.UniqueNone)
		require.NoError(t, m.Insert(ctx, booking("9876543210", june1, 1)))
		assert.NoError(t, m.Insert(ctx, booking("9876543210", june1, 2)))
		assert.ErrorIs(t, m.Insert(ctx, booking("1111111111", june1, 2)), allocation.ErrDuplicateToken)
	})
}

func TestMemory_ListingOrder(t *testing.T) {
	m := store.NewMemory(allocation.UniquePerDate)
	ctx := context.Background()
	june2 := june1.AddDays(1)

	require.NoError(t, m.Insert(ctx, booking("3333333333", june2, 1)))
	require.NoError(t, m.Insert(ctx, booking("2222222222", june1, 2)))
	require.NoError(t, m.Insert(ctx, booking("1111111111", june1, 1)))

	day, err := m.ListForDate(ctx, june1, allocation.AnyStatus)
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, []int{1, 2}, []int{day[0].TokenNumber, day[1].TokenNumber})

	all, err := m.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1111111111", all[0].Identity)
	assert.Equal(t, "2222222222", all[1].Identity)
	assert.Equal(t, "3333333333", all[2].Identity)
}

func TestMemory_CancelAllConfirmedForIsIdempotent(t *testing.T) {
	m := store.NewMemory(allocation.UniquePerDate)
	ctx := context.Background()
	june2 := june1.AddDays(1)

	require.NoError(t, m.Insert(ctx, booking("1111111111", june1, 1)))
	require.NoError(t, m.Insert(ctx, booking("2222222222", june1, 2)))
	require.NoError(t, m.Insert(ctx, booking("3333333333", june2, 1)))

	n, err := m.CancelAllConfirmedFor(ctx, june1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.CancelAllConfirmedFor(ctx, june1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	cancelled, err := m.ListForDate(ctx, june1, allocation.OnlyCancelled)
	require.NoError(t, err)
	assert.Len(t, cancelled, 2)

	other, err := m.ListForDate(ctx, june2, allocation.OnlyConfirmed)
	require.NoError(t, err)
	assert.Len(t, other, 1, "other dates untouched")
}

func TestMemory_FindByIdentityNewestFirst(t *testing.T) {
	m := store.NewMemory(allocation.UniquePerDate)
	ctx := context.Background()

	require.NoError(t, m.Insert(ctx, booking("9876543210", june1, 1)))
	require.NoError(t, m.Insert(ctx, booking("9876543210", june1.AddDays(3), 4)))

	found, err := m.FindByIdentity(ctx, "9876543210")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "2025-06-04", found[0].Date.String())

	none, err := m.FindByIdentity(ctx, "0000000000")
	require.NoError(t, err)
	assert.Empty(t, none)
}
