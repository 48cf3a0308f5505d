package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/token-engine/allocation"
	"github.com/warp/token-engine/app"
)

// NewBookCommand creates the book command.
func NewBookCommand(rootOpts *RootOptions) *cobra.Command {
	var req allocation.BookRequest

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Issue a token for a patient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				b, err := a.Engine.Book(ctx, req)
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).message(map[string]any{
					"id": b.ID, "token": b.TokenNumber, "date": b.Date.String(),
					"doctor": b.Slot.Provider, "time": b.Slot.TimeSlot,
				}, "Token %d booked for %s on %s", b.TokenNumber, b.SubjectName, b.Date)
			})
		},
	}

	cmd.Flags().StringVar(&req.SubjectName, "name", "", "patient name")
	cmd.Flags().StringVar(&req.Identity, "phone", "", "patient phone number")
	cmd.Flags().StringVar(&req.Date, "date", "", "appointment date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.Slot.Provider, "doctor", "", "doctor name")
	cmd.Flags().StringVar(&req.Slot.TimeSlot, "time-slot", "", "requested time slot")

	return cmd
}

// NewBookingsCommand creates the bookings command.
func NewBookingsCommand(rootOpts *RootOptions) *cobra.Command {
	var date, status string

	cmd := &cobra.Command{
		Use:   "bookings",
		Short: "List bookings, optionally for one date and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStatus(status)
			if err != nil {
				return err
			}
			var datePtr *allocation.Date
			if date != "" {
				d, err := allocation.ParseDate(date)
				if err != nil {
					return err
				}
				datePtr = &d
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				list, err := a.Engine.ListBookings(ctx, datePtr, filter)
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).bookings(list)
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "only this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&status, "status", "all", "all, confirmed or cancelled")

	return cmd
}

// NewAvailabilityCommand creates the availability command.
func NewAvailabilityCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "availability [date]",
		Short: "Show one date, or every date the engine has seen",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				out := newPrinter(rootOpts, cmd.OutOrStdout())
				if len(args) == 0 {
					list, err := a.Engine.ListAvailability(ctx)
					if err != nil {
						return err
					}
					return out.availability(list)
				}
				d, err := allocation.ParseDate(args[0])
				if err != nil {
					return err
				}
				avail, err := a.Engine.Availability(ctx, d)
				if err != nil {
					return err
				}
				return out.availability([]allocation.Availability{avail})
			})
		},
	}
}

// NewDisableCommand creates the disable command.
func NewDisableCommand(rootOpts *RootOptions) *cobra.Command {
	var keepCount bool

	cmd := &cobra.Command{
		Use:   "disable <date>",
		Short: "Stop bookings for a date",
		Long: `Stop bookings for a date.

By default the date's counter is reset to zero, as the web admin does.
Existing bookings are kept. With --keep-count only the open flag changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := allocation.ParseDate(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				if keepCount {
					err = a.Engine.CloseDate(ctx, d)
				} else {
					err = a.Engine.DisableDate(ctx, d)
				}
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).message(
					map[string]any{"date": d.String(), "closed": true}, "%s closed", d)
			})
		},
	}

	cmd.Flags().BoolVar(&keepCount, "keep-count", false, "close without resetting the issued count")

	return cmd
}

// NewCloseTodayCommand creates the close-today command.
func NewCloseTodayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "close-today",
		Short: "Close today and cancel its confirmed bookings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.CancelToday(ctx)
				if err != nil {
					return err
				}
				today := a.Engine.Today()
				return newPrinter(rootOpts, cmd.OutOrStdout()).message(
					map[string]any{"date": today.String(), "affected": n},
					"%s closed, %d booking(s) cancelled", today, n)
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show booking totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.Stats(ctx)
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).message(map[string]int{
					"total": s.Total, "today": s.Today, "cancelled": s.Cancelled,
				}, "total %d, today %d, cancelled %d", s.Total, s.Today, s.Cancelled)
			})
		},
	}
}

func parseStatus(s string) (allocation.StatusFilter, error) {
	switch s {
	case "", "all":
		return allocation.AnyStatus, nil
	case string(allocation.StatusConfirmed):
		return allocation.OnlyConfirmed, nil
	case string(allocation.StatusCancelled):
		return allocation.OnlyCancelled, nil
	default:
		return "", fmt.Errorf("invalid status %q: must be all, confirmed or cancelled", s)
	}
}
