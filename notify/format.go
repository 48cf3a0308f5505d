/*
Package notify holds the allocation.Notifier implementations.

PROVIDERS:
  TwilioSender:   Twilio REST SMS
  Fast2SMSSender: Fast2SMS bulk API (India)
  AMQPPublisher:  booking.confirmed events on a RabbitMQ topic exchange
  LogNotifier:    writes the confirmation to the log (development)
  Multi:          fans out to several of the above

None of them retry beyond a single HTTP-level retry loop; the dispatcher
drops failed confirmations after logging them.
*/
package notify

import (
	"fmt"
	"strings"

	"github.com/warp/token-engine/allocation"
)

// DefaultSignature closes every SMS body.
const DefaultSignature = "Clinic"

// FormatConfirmation renders the SMS body for c.
func FormatConfirmation(c allocation.Confirmation, signature string) string {
	if signature == "" {
		signature = DefaultSignature
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n", c.SubjectName)
	b.WriteString("Appointment Confirmed\n")
	if c.Provider != "" {
		fmt.Fprintf(&b, "Doctor: %s\n", c.Provider)
	}
	fmt.Fprintf(&b, "Token No: %d\n", c.Token)
	fmt.Fprintf(&b, "Date: %s\n", c.Date)
	if c.TimeSlot != "" {
		fmt.Fprintf(&b, "Time: %s\n", c.TimeSlot)
	}
	b.WriteString(signature)
	return b.String()
}
