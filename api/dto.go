/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Field names follow
  the booking form the clinic front end already posts (name, phone,
  doctor, time_slot), so the engine's vocabulary never leaks to clients.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/token-engine/allocation"
)

// =============================================================================
// BOOKING
// =============================================================================

// BookRequest is the public booking form. The walk-in page posts the
// slot as "time"; "time_slot" is accepted too.
type BookRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Date     string `json:"date"`
	Doctor   string `json:"doctor,omitempty"`
	Time     string `json:"time,omitempty"`
	TimeSlot string `json:"time_slot,omitempty"`
}

// Slot returns the requested time slot, preferring "time".
func (r BookRequest) Slot() string {
	if r.Time != "" {
		return r.Time
	}
	return r.TimeSlot
}

// BookResponse is returned on a successful booking.
type BookResponse struct {
	Success bool   `json:"success"`
	Token   int    `json:"token"`
	Date    string `json:"date"`
	Doctor  string `json:"doctor,omitempty"`
	Time    string `json:"time,omitempty"`
	Message string `json:"message"`
}

// CheckTokenRequest looks up bookings by phone.
type CheckTokenRequest struct {
	Phone string `json:"phone"`
}

// CheckTokenResponse carries the most recent booking for a phone.
// Found is false (with status 200) when the phone has no booking.
type CheckTokenResponse struct {
	Success  bool   `json:"success"`
	Found    bool   `json:"found"`
	Name     string `json:"name,omitempty"`
	Date     string `json:"date,omitempty"`
	Token    int    `json:"token,omitempty"`
	Status   string `json:"status,omitempty"`
	Doctor   string `json:"doctor,omitempty"`
	TimeSlot string `json:"time_slot,omitempty"`
	Message  string `json:"message,omitempty"`
}

// BookingDTO represents a booking in API responses.
type BookingDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Date      string `json:"date"`
	Token     int    `json:"token"`
	Status    string `json:"status"`
	Doctor    string `json:"doctor,omitempty"`
	TimeSlot  string `json:"time_slot,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// =============================================================================
// AVAILABILITY & ADMIN
// =============================================================================

// AvailabilityDTO represents one date's record.
type AvailabilityDTO struct {
	Date        string `json:"date"`
	IsOpen      bool   `json:"is_open"`
	Capacity    int    `json:"capacity"`
	BookedCount int    `json:"booked_count"`
	Remaining   int    `json:"remaining"`
	Utilization string `json:"utilization_pct"`
}

// DateRequest names a date for admin actions.
type DateRequest struct {
	Date string `json:"date"`
}

// AdminActionResponse is returned by admin mutations.
type AdminActionResponse struct {
	Success  bool   `json:"success"`
	Date     string `json:"date"`
	Affected int    `json:"affected"`
	Message  string `json:"message"`
}

// StatsDTO carries the dashboard counters.
type StatsDTO struct {
	Total     int `json:"total"`
	Today     int `json:"today"`
	Cancelled int `json:"cancelled"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBookingDTO(b allocation.Booking) BookingDTO {
	dto := BookingDTO{
		ID:       b.ID,
		Name:     b.SubjectName,
		Phone:    b.Identity,
		Date:     b.Date.String(),
		Token:    b.TokenNumber,
		Status:   string(b.Status),
		Doctor:   b.Slot.Provider,
		TimeSlot: b.Slot.TimeSlot,
	}
	if !b.CreatedAt.IsZero() {
		dto.CreatedAt = b.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toBookingDTOs(bookings []allocation.Booking) []BookingDTO {
	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	return dtos
}

func toAvailabilityDTO(a allocation.Availability) AvailabilityDTO {
	return AvailabilityDTO{
		Date:        a.Date.String(),
		IsOpen:      a.IsOpen,
		Capacity:    a.Capacity,
		BookedCount: a.BookedCount,
		Remaining:   a.Remaining(),
		Utilization: a.Utilization().String(),
	}
}
