package allocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warp/token-engine/logging"
)

// DefaultNotifyTimeout bounds a single notification attempt.
const DefaultNotifyTimeout = 10 * time.Second

// Confirmation is the structured fact sent after a successful booking.
type Confirmation struct {
	SubjectName string
	Token       int
	Provider    string
	Date        string
	TimeSlot    string
}

// Notifier delivers a confirmation to a recipient (the booking identity).
type Notifier interface {
	Notify(ctx context.Context, recipient string, c Confirmation) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, recipient string, c Confirmation) error

func (f NotifierFunc) Notify(ctx context.Context, recipient string, c Confirmation) error {
	return f(ctx, recipient, c)
}

// Metrics receives engine outcomes. metrics.Engine implements it.
type Metrics interface {
	ObserveBooking(outcome string, elapsed time.Duration)
	ObserveNotification(status string)
	ObserveAdmin(action string, affected int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveBooking(string, time.Duration) {}
func (nopMetrics) ObserveNotification(string)           {}
func (nopMetrics) ObserveAdmin(string, int)             {}

// Dispatcher sends confirmations in the background. Each send runs in its
// own goroutine with its own timeout; failures are logged and counted,
// never retried and never reported to the booking caller.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *logging.Logger
	metrics  Metrics

	wg sync.WaitGroup
}

// NewDispatcher wraps n. A nil notifier makes Dispatch a no-op.
func NewDispatcher(n Notifier, timeout time.Duration, logger *logging.Logger, m Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &Dispatcher{notifier: n, timeout: timeout, logger: logger, metrics: m}
}

// Dispatch schedules the confirmation for b and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, b Booking, provider string) {
	if d == nil || d.notifier == nil {
		return
	}
	c := Confirmation{
		SubjectName: b.SubjectName,
		Token:       b.TokenNumber,
		Provider:    provider,
		Date:        b.Date.String(),
		TimeSlot:    b.Slot.TimeSlot,
	}
	base := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		if err := d.send(ctx, b.Identity, c); err != nil {
			d.metrics.ObserveNotification("failed")
			d.logger.Warn("notify: confirmation failed",
				"error", err, "date", c.Date, "token", c.Token)
			return
		}
		d.metrics.ObserveNotification("sent")
		d.logger.Debug("notify: confirmation sent", "date", c.Date, "token", c.Token)
	}()
}

func (d *Dispatcher) send(ctx context.Context, recipient string, c Confirmation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return d.notifier.Notify(ctx, recipient, c)
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
