package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/warp/token-engine/allocation"
)

// printer writes results as aligned text or indented JSON.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(opts *RootOptions, w io.Writer) *printer {
	return &printer{format: opts.Format, w: w}
}

func (p *printer) writeJSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type bookingRow struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Token    int    `json:"token"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Status   string `json:"status"`
	Doctor   string `json:"doctor,omitempty"`
	TimeSlot string `json:"time_slot,omitempty"`
}

func (p *printer) bookings(list []allocation.Booking) error {
	rows := make([]bookingRow, len(list))
	for i, b := range list {
		rows[i] = bookingRow{
			ID: b.ID, Date: b.Date.String(), Token: b.TokenNumber,
			Name: b.SubjectName, Phone: b.Identity, Status: string(b.Status),
			Doctor: b.Slot.Provider, TimeSlot: b.Slot.TimeSlot,
		}
	}
	if p.format == "json" {
		return p.writeJSON(rows)
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTOKEN\tNAME\tPHONE\tSTATUS\tDOCTOR\tTIME")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Date, r.Token, r.Name, r.Phone, r.Status, r.Doctor, r.TimeSlot)
	}
	return tw.Flush()
}

type availabilityRow struct {
	Date        string `json:"date"`
	IsOpen      bool   `json:"is_open"`
	Capacity    int    `json:"capacity"`
	BookedCount int    `json:"booked_count"`
	Remaining   int    `json:"remaining"`
	Utilization string `json:"utilization_pct"`
}

func (p *printer) availability(list []allocation.Availability) error {
	rows := make([]availabilityRow, len(list))
	for i, a := range list {
		rows[i] = availabilityRow{
			Date: a.Date.String(), IsOpen: a.IsOpen, Capacity: a.Capacity,
			BookedCount: a.BookedCount, Remaining: a.Remaining(),
			Utilization: a.Utilization().String(),
		}
	}
	if p.format == "json" {
		return p.writeJSON(rows)
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tOPEN\tBOOKED\tCAPACITY\tREMAINING\tUSED%")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%t\t%d\t%d\t%d\t%s\n",
			r.Date, r.IsOpen, r.BookedCount, r.Capacity, r.Remaining, r.Utilization)
	}
	return tw.Flush()
}

// message prints a one-line result, or v as JSON.
func (p *printer) message(v any, format string, args ...any) error {
	if p.format == "json" {
		return p.writeJSON(v)
	}
	_, err := fmt.Fprintf(p.w, format+"\n", args...)
	return err
}
