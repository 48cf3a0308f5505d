package notify

import (
	"context"

	"github.com/warp/token-engine/allocation"
	"github.com/warp/token-engine/logging"
)

// LogNotifier writes confirmations to the log instead of sending them.
type LogNotifier struct {
	logger *logging.Logger
}

func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, recipient string, c allocation.Confirmation) error {
	n.logger.Info("notify: confirmation",
		"recipient", recipient,
		"name", c.SubjectName,
		"token", c.Token,
		"provider", c.Provider,
		"date", c.Date,
		"time_slot", c.TimeSlot,
	)
	return nil
}
