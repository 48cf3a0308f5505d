package allocation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Compile(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr bool
	}{
		{"defaults", func(*Policy) {}, false},
		{"zero capacity", func(p *Policy) { p.Capacity = 0 }, true},
		{"unknown mode", func(p *Policy) { p.Window.Mode = "sometimes" }, true},
		{"fixed window inverted", func(p *Policy) {
			p.Window.Mode = WindowFixed
			p.Window.Open, p.Window.Close = NewTimeOfDay(20, 0), NewTimeOfDay(17, 0)
		}, true},
		{"unknown scope", func(p *Policy) { p.Uniqueness = "per_week" }, true},
		{"bad pattern", func(p *Policy) { p.IdentityPattern = "([" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Compile()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPolicy_CompileFillsDefaults(t *testing.T) {
	p := DefaultPolicy()
	p.Uniqueness = ""
	p.Window.Location = nil
	require.NoError(t, p.Compile())
	assert.Equal(t, UniquePerDate, p.Uniqueness)
	assert.Equal(t, time.Local, p.Window.Location)
}

func TestPolicy_ValidIdentity(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Compile())

	assert.True(t, p.ValidIdentity("9876543210"))
	assert.False(t, p.ValidIdentity("987654321"))
	assert.False(t, p.ValidIdentity("98765432100"))
	assert.False(t, p.ValidIdentity("+919876543210"))

	// Uncompiled policies still validate.
	raw := DefaultPolicy()
	assert.True(t, raw.ValidIdentity("9876543210"))

	open := DefaultPolicy()
	open.IdentityPattern = ""
	assert.True(t, open.ValidIdentity("anything"))
}

func TestPolicy_CheckDate(t *testing.T) {
	p := DefaultPolicy()
	p.Window.Location = time.UTC
	at := func(h, m int) time.Time { return time.Date(2025, time.May, 30, h, m, 0, 0, time.UTC) }
	today := NewDate(2025, time.May, 30)

	assert.Equal(t, KindPastDate, p.CheckDate(today.AddDays(-1), at(9, 0)))
	assert.Equal(t, ErrorKind(""), p.CheckDate(today, at(16, 59)))
	assert.Equal(t, KindWindowClosed, p.CheckDate(today, at(17, 0)))
	assert.Equal(t, ErrorKind(""), p.CheckDate(today.AddDays(1), at(23, 59)))

	p.Window.Mode = WindowFixed
	assert.Equal(t, KindWindowClosed, p.CheckDate(today, at(9, 0)))
	assert.Equal(t, ErrorKind(""), p.CheckDate(today, at(18, 0)))
	assert.Equal(t, KindWindowClosed, p.CheckDate(today, at(20, 0)))
}

func TestPolicy_Today(t *testing.T) {
	p := DefaultPolicy()
	p.Window.Location = time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2025, time.May, 30, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-05-31", p.Today(now).String())
}

func TestDateAndTimeOfDay(t *testing.T) {
	d, err := ParseDate(" 2025-06-01 ")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", d.String())
	assert.True(t, d.Equal(NewDate(2025, time.June, 1)))
	assert.True(t, d.AddDays(-1).Before(d))
	assert.True(t, d.AddDays(30).After(d))
	assert.Equal(t, "2025-07-01", d.AddDays(30).String())

	for _, bad := range []string{"", "2025-13-01", "2025-02-30", "01-06-2025", "2025/06/01"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}

	tod, err := ParseTimeOfDay("17:30")
	require.NoError(t, err)
	assert.Equal(t, NewTimeOfDay(17, 30), tod)
	assert.Equal(t, 17, tod.Hour())
	assert.Equal(t, 30, tod.Minute())
	assert.Equal(t, "17:30", tod.String())

	_, err = ParseTimeOfDay("5pm")
	assert.Error(t, err)
}

func TestAvailability(t *testing.T) {
	a := NewAvailability(NewDate(2025, time.June, 1), 25)
	assert.True(t, a.CanBook())
	assert.Equal(t, 25, a.Remaining())
	assert.True(t, a.Utilization().Equal(decimal.Zero))

	a.BookedCount = 10
	assert.Equal(t, 15, a.Remaining())
	assert.Equal(t, "40", a.Utilization().String())

	a.Capacity = 3
	a.BookedCount = 1
	assert.Equal(t, "33.3", a.Utilization().String())

	a.BookedCount = 3
	assert.False(t, a.CanBook())
	assert.Equal(t, 0, a.Remaining())

	a.BookedCount = 0
	a.IsOpen = false
	assert.False(t, a.CanBook())
}

func TestBookingError(t *testing.T) {
	cause := errors.New("connection reset")
	err := reject(KindInternal, "2025-06-01", "9876543210", cause)

	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal failure (date 2025-06-01): connection reset", err.Error())
	assert.Equal(t, KindInternal, KindOf(err))

	full := reject(KindCapacityReached, "2025-06-01", "", nil)
	assert.Equal(t, "all tokens booked for this date (date 2025-06-01)", full.Error())
	assert.True(t, IsConflict(full))
	assert.False(t, IsClientError(full))

	assert.Equal(t, KindDuplicateIdentity, KindOf(ErrDuplicateIdentity))
	assert.Equal(t, KindInternal, KindOf(errors.New("other")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.True(t, IsClientError(reject(KindPastDate, "", "", nil)))
}

func TestStatusFilter(t *testing.T) {
	assert.True(t, AnyStatus.Matches(StatusCancelled))
	assert.True(t, OnlyConfirmed.Matches(StatusConfirmed))
	assert.False(t, OnlyConfirmed.Matches(StatusCancelled))
}

func TestResultOf(t *testing.T) {
	b := Booking{ID: "b1", TokenNumber: 4, Date: MustParseDate("2025-06-01")}
	res := ResultOf(b, nil)
	assert.True(t, res.Success)
	assert.Equal(t, 4, res.Token)
	assert.Equal(t, "b1", res.Booking.ID)
	assert.Empty(t, res.Kind)

	res = ResultOf(Booking{}, reject(KindCapacityReached, "2025-06-01", "", nil))
	assert.False(t, res.Success)
	assert.Equal(t, KindCapacityReached, res.Kind)
	assert.Zero(t, res.Token)

	res = ResultOf(Booking{}, errors.New("disk full"))
	assert.Equal(t, KindInternal, res.Kind)
}

func TestBookingError_UnknownKind(t *testing.T) {
	var zero BookingError
	assert.Equal(t, "internal failure", zero.Error())
	assert.ErrorIs(t, &zero, ErrInternal)

	odd := &BookingError{Kind: ErrorKind("gone_fishing"), Date: "2025-06-01"}
	assert.Equal(t, "internal failure (date 2025-06-01)", odd.Error())
}
