package notify

import (
	"context"
	"errors"

	"github.com/warp/token-engine/allocation"
)

// Multi sends to every notifier in order. All are attempted even when
// one fails; the failures are joined.
type Multi []allocation.Notifier

func (m Multi) Notify(ctx context.Context, recipient string, c allocation.Confirmation) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, recipient, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
