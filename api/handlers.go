/*
handlers.go - HTTP API handlers for the token booking engine

PURPOSE:
  Exposes the allocation engine via a small JSON API. Handles HTTP
  request/response and JSON serialization, and delegates everything else
  to allocation.Engine.

ENDPOINTS:
  Public:
    POST   /api/book                    Book a token
    POST   /api/check-token             Latest booking for a phone number
    GET    /api/availability/{date}     One date's availability

  Admin:
    GET    /api/admin/bookings          ?date=YYYY-MM-DD&status=confirmed|cancelled
    GET    /api/admin/availability      Every referenced date
    GET    /api/admin/stats             Dashboard counters
    POST   /api/admin/disable-date      {"date"} close and reset a date
    POST   /api/admin/close-date        {"date"} close, keep the counter
    POST   /api/admin/close-today       close today, cancel its bookings

ERROR HANDLING:
  Rejections are JSON {success:false, error:<kind>, message}:
  - 400: missing_fields, invalid_identity, invalid_date, past_date
  - 409: booking_window_closed, date_closed, capacity_reached,
         duplicate_identity
  - 500: internal

SECURITY NOTE:
  No authentication. Admin routes must sit behind a gateway that enforces it.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/token-engine/allocation"
	"github.com/warp/token-engine/logging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *allocation.Engine
	logger *logging.Logger
}

// NewHandler creates a new handler around engine.
func NewHandler(engine *allocation.Engine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{Engine: engine, logger: logger}
}

var kindMessages = map[allocation.ErrorKind]string{
	allocation.KindMissingFields:     "All required fields missing",
	allocation.KindInvalidIdentity:   "Invalid phone number",
	allocation.KindInvalidDate:       "Invalid date format, use YYYY-MM-DD",
	allocation.KindPastDate:          "Cannot book past date",
	allocation.KindWindowClosed:      "Booking is closed for today",
	allocation.KindDateClosed:        "Bookings closed for this date",
	allocation.KindCapacityReached:   "All tokens booked for this date",
	allocation.KindDuplicateIdentity: "This phone number already has a booking",
	allocation.KindInternal:          "Something went wrong, please try again",
}

// =============================================================================
// PUBLIC HANDLERS
// =============================================================================

// Book issues a token.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeKind(w, allocation.KindMissingFields, "Invalid request body")
		return
	}

	booking, err := h.Engine.Book(r.Context(), allocation.BookRequest{
		Identity:    req.Phone,
		SubjectName: req.Name,
		Date:        req.Date,
		Slot:        allocation.Slot{Provider: req.Doctor, TimeSlot: req.Slot()},
	})
	res := allocation.ResultOf(booking, err)
	if !res.Success {
		h.writeBookingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, BookResponse{
		Success: true,
		Token:   res.Token,
		Date:    res.Booking.Date.String(),
		Doctor:  res.Booking.Slot.Provider,
		Time:    res.Booking.Slot.TimeSlot,
		Message: "Appointment confirmed",
	})
}

// CheckToken returns the newest booking held by a phone number.
func (h *Handler) CheckToken(w http.ResponseWriter, r *http.Request) {
	var req CheckTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Phone) == "" {
		writeKind(w, allocation.KindMissingFields, "Phone number required")
		return
	}
	phone := strings.TrimSpace(req.Phone)
	if policy := h.Engine.Policy(); !policy.ValidIdentity(phone) {
		writeKind(w, allocation.KindInvalidIdentity, "")
		return
	}

	bookings, err := h.Engine.LookupIdentity(r.Context(), phone)
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}
	if len(bookings) == 0 {
		writeJSON(w, http.StatusOK, CheckTokenResponse{Success: true, Message: "No booking found for this number"})
		return
	}
	b := bookings[0]
	writeJSON(w, http.StatusOK, CheckTokenResponse{
		Success:  true,
		Found:    true,
		Name:     b.SubjectName,
		Date:     b.Date.String(),
		Token:    b.TokenNumber,
		Status:   string(b.Status),
		Doctor:   b.Slot.Provider,
		TimeSlot: b.Slot.TimeSlot,
	})
}

// GetAvailability reports one date without creating it.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	date, err := allocation.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeKind(w, allocation.KindInvalidDate, "")
		return
	}
	avail, err := h.Engine.Availability(r.Context(), date)
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityDTO(avail))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListBookings lists bookings, optionally for one date and status.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	var date *allocation.Date
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := allocation.ParseDate(raw)
		if err != nil {
			writeKind(w, allocation.KindInvalidDate, "")
			return
		}
		date = &d
	}

	var filter allocation.StatusFilter
	switch status := r.URL.Query().Get("status"); status {
	case "", "all":
		filter = allocation.AnyStatus
	case string(allocation.StatusConfirmed):
		filter = allocation.OnlyConfirmed
	case string(allocation.StatusCancelled):
		filter = allocation.OnlyCancelled
	default:
		writeKind(w, allocation.KindMissingFields, "status must be confirmed, cancelled or all")
		return
	}

	bookings, err := h.Engine.ListBookings(r.Context(), date, filter)
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTOs(bookings))
}

// ListAvailability lists every referenced date.
func (h *Handler) ListAvailability(w http.ResponseWriter, r *http.Request) {
	all, err := h.Engine.ListAvailability(r.Context())
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}
	dtos := make([]AvailabilityDTO, len(all))
	for i, a := range all {
		dtos[i] = toAvailabilityDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Stats returns the dashboard counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Engine.Stats(r.Context())
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsDTO{Total: stats.Total, Today: stats.Today, Cancelled: stats.Cancelled})
}

// DisableDate closes a date and resets its counter.
func (h *Handler) DisableDate(w http.ResponseWriter, r *http.Request) {
	date, ok := decodeDate(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DisableDate(r.Context(), date); err != nil {
		h.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AdminActionResponse{Success: true, Date: date.String(), Message: "Date disabled"})
}

// CloseDate stops new bookings for a date.
func (h *Handler) CloseDate(w http.ResponseWriter, r *http.Request) {
	date, ok := decodeDate(w, r)
	if !ok {
		return
	}
	if err := h.Engine.CloseDate(r.Context(), date); err != nil {
		h.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AdminActionResponse{Success: true, Date: date.String(), Message: "Date closed"})
}

// CloseToday closes today and cancels today's confirmed bookings.
func (h *Handler) CloseToday(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.CancelToday(r.Context())
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AdminActionResponse{
		Success:  true,
		Date:     h.Engine.Today().String(),
		Affected: n,
		Message:  "Today's bookings cancelled",
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeDate(w http.ResponseWriter, r *http.Request) (allocation.Date, bool) {
	var req DateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Date) == "" {
		writeKind(w, allocation.KindMissingFields, "Date required")
		return allocation.Date{}, false
	}
	date, err := allocation.ParseDate(req.Date)
	if err != nil {
		writeKind(w, allocation.KindInvalidDate, "")
		return allocation.Date{}, false
	}
	return date, true
}

func (h *Handler) writeBookingError(w http.ResponseWriter, r *http.Request, err error) {
	kind := allocation.KindOf(err)
	if kind == allocation.KindInternal {
		h.writeInternal(w, r, err)
		return
	}
	writeKind(w, kind, "")
}

func (h *Handler) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("api: request failed", "path", r.URL.Path, "error", err)
	writeKind(w, allocation.KindInternal, "")
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind allocation.ErrorKind) int {
	err := &allocation.BookingError{Kind: kind}
	switch {
	case allocation.IsClientError(err):
		return http.StatusBadRequest
	case allocation.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeKind(w http.ResponseWriter, kind allocation.ErrorKind, message string) {
	if message == "" {
		message = kindMessages[kind]
	}
	writeJSON(w, statusFor(kind), ErrorResponse{Success: false, Error: string(kind), Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
