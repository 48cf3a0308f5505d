// Package store provides the in-memory allocation.Store implementation.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/token-engine/allocation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps availability and bookings in process memory. Each date has
// its own slot mutex, so increments on different dates never contend.
type Memory struct {
	scope allocation.UniquenessScope

	slotsMu sync.RWMutex
	slots   map[string]*slot

	ledgerMu   sync.RWMutex
	bookings   []allocation.Booking
	tokens     map[tokenKey]bool
	identities map[identityKey]bool
}

type slot struct {
	mu    sync.Mutex
	avail allocation.Availability
}

type tokenKey struct {
	Date  string
	Token int
}

type identityKey struct {
	Identity string
	Date     string // empty for global uniqueness
}

// NewMemory creates an empty store enforcing identity uniqueness per scope.
func NewMemory(scope allocation.UniquenessScope) *Memory {
	if scope == "" {
		scope = allocation.UniquePerDate
	}
	return &Memory{
		scope:      scope,
		slots:      make(map[string]*slot),
		tokens:     make(map[tokenKey]bool),
		identities: make(map[identityKey]bool),
	}
}

// =============================================================================
// AVAILABILITY
// =============================================================================

func (m *Memory) lookup(date allocation.Date) *slot {
	m.slotsMu.RLock()
	defer m.slotsMu.RUnlock()
	return m.slots[date.String()]
}

// slotFor returns the slot for date, creating it with init when absent.
// The double-checked insert under the write lock keeps one record per date.
func (m *Memory) slotFor(date allocation.Date, init allocation.Availability) *slot {
	if s := m.lookup(date); s != nil {
		return s
	}
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()
	if s, ok := m.slots[date.String()]; ok {
		return s
	}
	s := &slot{avail: init}
	m.slots[date.String()] = s
	return s
}

func (m *Memory) GetOrCreate(_ context.Context, date allocation.Date, capacity int) (allocation.Availability, error) {
	s := m.slotFor(date, allocation.NewAvailability(date, capacity))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avail, nil
}

func (m *Memory) Get(_ context.Context, date allocation.Date) (allocation.Availability, error) {
	s := m.lookup(date)
	if s == nil {
		return allocation.Availability{}, allocation.ErrAvailabilityNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avail, nil
}

func (m *Memory) CloseDate(_ context.Context, date allocation.Date, capacity int) error {
	init := allocation.NewAvailability(date, capacity)
	init.IsOpen = false
	s := m.slotFor(date, init)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avail.IsOpen = false
	return nil
}

func (m *Memory) ResetDate(_ context.Context, date allocation.Date, capacity int) error {
	reset := allocation.Availability{Date: date, IsOpen: false, Capacity: capacity}
	s := m.slotFor(date, reset)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avail = reset
	return nil
}

func (m *Memory) IncrementBooked(_ context.Context, date allocation.Date) (int, error) {
	s := m.lookup(date)
	if s == nil {
		return 0, allocation.ErrAvailabilityNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.avail.IsOpen {
		return 0, allocation.ErrDateClosed
	}
	if s.avail.BookedCount >= s.avail.Capacity {
		return 0, allocation.ErrCapacityReached
	}
	s.avail.BookedCount++
	return s.avail.BookedCount, nil
}

func (m *Memory) ListAvailability(_ context.Context) ([]allocation.Availability, error) {
	m.slotsMu.RLock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.slotsMu.RUnlock()

	out := make([]allocation.Availability, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, s.avail)
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) identityKeyOf(b allocation.Booking) (identityKey, bool) {
	switch m.scope {
	case allocation.UniqueGlobal:
		return identityKey{Identity: b.Identity}, true
	case allocation.UniquePerDate:
		return identityKey{Identity: b.Identity, Date: b.Date.String()}, true
	default:
		return identityKey{}, false
	}
}

// Insert appends a booking. Both unique indexes are checked before any write.
func (m *Memory) Insert(_ context.Context, b allocation.Booking) error {
	m.ledgerMu.Lock()
	defer m.ledgerMu.Unlock()

	tk := tokenKey{Date: b.Date.String(), Token: b.TokenNumber}
	ik, checkIdentity := m.identityKeyOf(b)
	if checkIdentity && m.identities[ik] {
		return allocation.ErrDuplicateIdentity
	}
	if m.tokens[tk] {
		return allocation.ErrDuplicateToken
	}

	m.bookings = append(m.bookings, b)
	m.tokens[tk] = true
	if checkIdentity {
		m.identities[ik] = true
	}
	return nil
}

func (m *Memory) ListForDate(_ context.Context, date allocation.Date, filter allocation.StatusFilter) ([]allocation.Booking, error) {
	m.ledgerMu.RLock()
	defer m.ledgerMu.RUnlock()

	var out []allocation.Booking
	for _, b := range m.bookings {
		if b.Date.Equal(date) && filter.Matches(b.Status) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenNumber < out[j].TokenNumber })
	return out, nil
}

func (m *Memory) ListAll(_ context.Context) ([]allocation.Booking, error) {
	m.ledgerMu.RLock()
	out := make([]allocation.Booking, len(m.bookings))
	copy(out, m.bookings)
	m.ledgerMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].TokenNumber < out[j].TokenNumber
	})
	return out, nil
}

func (m *Memory) CancelAllConfirmedFor(_ context.Context, date allocation.Date) (int, error) {
	m.ledgerMu.Lock()
	defer m.ledgerMu.Unlock()

	n := 0
	for i := range m.bookings {
		if m.bookings[i].Date.Equal(date) && m.bookings[i].Status == allocation.StatusConfirmed {
			m.bookings[i].Status = allocation.StatusCancelled
			n++
		}
	}
	return n, nil
}

func (m *Memory) FindByIdentity(_ context.Context, identity string) ([]allocation.Booking, error) {
	m.ledgerMu.RLock()
	defer m.ledgerMu.RUnlock()

	var out []allocation.Booking
	for _, b := range m.bookings {
		if b.Identity == identity {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].TokenNumber > out[j].TokenNumber
	})
	return out, nil
}

var _ allocation.Store = (*Memory)(nil)
