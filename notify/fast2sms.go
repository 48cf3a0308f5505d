package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/warp/token-engine/allocation"
	"github.com/warp/token-engine/logging"
)

const defaultFast2SMSURL = "https://www.fast2sms.com/dev/bulkV2"

// Fast2SMSSender posts to the Fast2SMS bulk API ("q" quick route).
type Fast2SMSSender struct {
	apiKey     string
	endpoint   string
	signature  string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewFast2SMSSender builds a sender. An empty endpoint uses the public API.
func NewFast2SMSSender(apiKey, endpoint, signature string, logger *logging.Logger) *Fast2SMSSender {
	if endpoint == "" {
		endpoint = defaultFast2SMSURL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Fast2SMSSender{
		apiKey:     apiKey,
		endpoint:   endpoint,
		signature:  signature,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

var _ allocation.Notifier = (*Fast2SMSSender)(nil)

type fast2smsRequest struct {
	Route    string `json:"route"`
	Language string `json:"language"`
	Numbers  string `json:"numbers"`
	Message  string `json:"message"`
}

type fast2smsResponse struct {
	Return  bool            `json:"return"`
	Message json.RawMessage `json:"message"`
}

func (s *Fast2SMSSender) Notify(ctx context.Context, recipient string, c allocation.Confirmation) error {
	if s.apiKey == "" {
		return errors.New("notify: fast2sms api key missing")
	}
	ctx, span := tracer.Start(ctx, "notify.fast2sms.send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("booking.date", c.Date), attribute.Int("booking.token", c.Token))

	body, err := json.Marshal(fast2smsRequest{
		Route:    "q",
		Language: "english",
		Numbers:  recipient,
		Message:  FormatConfirmation(c, s.signature),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("fast2sms send: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("fast2sms send failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		span.RecordError(err)
		return err
	}
	var parsed fast2smsResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && !parsed.Return {
		err := fmt.Errorf("fast2sms rejected message: %s", string(parsed.Message))
		span.RecordError(err)
		return err
	}
	s.logger.Info("notify: fast2sms sent", "date", c.Date, "token", c.Token)
	return nil
}
