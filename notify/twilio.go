package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/warp/token-engine/allocation"
	"github.com/warp/token-engine/logging"
)

var tracer = otel.Tracer("github.com/warp/token-engine/notify")

const (
	defaultTwilioBaseURL = "https://api.twilio.com"
	sendAttempts         = 3
)

// TwilioConfig configures a TwilioSender.
type TwilioConfig struct {
	AccountSID    string
	AuthToken     string
	From          string
	CountryPrefix string // prepended to 10 digit identities, e.g. "+91"
	Signature     string
	BaseURL       string // tests only
}

// TwilioSender posts SMS messages using Twilio's REST API.
type TwilioSender struct {
	cfg        TwilioConfig
	httpClient *http.Client
	retryDelay time.Duration
	logger     *logging.Logger
}

// NewTwilioSender builds a sender with a 10s HTTP timeout.
func NewTwilioSender(cfg TwilioConfig, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	return &TwilioSender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retryDelay: 250 * time.Millisecond,
		logger:     logger,
	}
}

var _ allocation.Notifier = (*TwilioSender)(nil)

// Notify sends the confirmation SMS, retrying 5xx and 429 responses.
func (s *TwilioSender) Notify(ctx context.Context, recipient string, c allocation.Confirmation) error {
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" {
		return errors.New("notify: twilio credentials missing")
	}
	if s.cfg.From == "" {
		return errors.New("notify: twilio from number required")
	}
	if recipient == "" {
		return errors.New("notify: recipient required")
	}

	ctx, span := tracer.Start(ctx, "notify.twilio.send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("booking.date", c.Date), attribute.Int("booking.token", c.Token))

	payload := url.Values{}
	payload.Set("To", s.cfg.CountryPrefix+recipient)
	payload.Set("From", s.cfg.From)
	payload.Set("Body", FormatConfirmation(c, s.cfg.Signature))
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.cfg.BaseURL, s.cfg.AccountSID)

	var lastErr error
	for attempt := 1; ; attempt++ {
		retry, err := s.post(ctx, endpoint, payload)
		if err == nil {
			s.logger.Info("notify: twilio sms sent", "date", c.Date, "token", c.Token)
			return nil
		}
		lastErr = err
		if !retry || attempt == sendAttempts {
			break
		}
		if err := sleep(ctx, s.retryDelay); err != nil {
			lastErr = err
			break
		}
	}
	span.RecordError(lastErr)
	return lastErr
}

// post sends one request and reports whether a failure is worth retrying.
func (s *TwilioSender) post(ctx context.Context, endpoint string, payload url.Values) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return false, err
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	err = fmt.Errorf("twilio send failed: %s", formatTwilioError(resp.StatusCode, body))
	// Don't retry non-rate-limit 4xx errors.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return false, err
	}
	return true, err
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func formatTwilioError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
