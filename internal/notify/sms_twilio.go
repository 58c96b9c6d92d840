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

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var twilioTracer = otel.Tracer("clinic.internal.notify.twilio")

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// SMSSender delivers a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// TwilioSender posts SMS through the Twilio REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	logger     zerolog.Logger
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	// BaseURL overrides the API root, used by tests.
	BaseURL string
}

func NewTwilioSender(cfg TwilioConfig, logger zerolog.Logger) *TwilioSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioBaseURL
	}
	return &TwilioSender{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		attempts:   3,
		backoff:    250 * time.Millisecond,
		logger:     logger,
	}
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SendSMS retries transport failures, 429 and 5xx responses.
func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	if s.accountSID == "" || s.authToken == "" {
		return errors.New("notify: twilio credentials missing")
	}
	if to == "" {
		return errors.New("notify: sms recipient required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("notify: sms body required")
	}

	ctx, span := twilioTracer.Start(ctx, "notify.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("sms.to", to))

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", body)
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		retry, err := s.post(ctx, endpoint, form)
		if err == nil {
			s.logger.Info().Str("to", to).Int("attempt", attempt).Msg("twilio sms sent")
			return nil
		}
		lastErr = err
		if !retry || attempt == s.attempts {
			break
		}

		if err := wait(ctx, s.backoff*time.Duration(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return lastErr
}

func (s *TwilioSender) post(ctx context.Context, endpoint string, form url.Values) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("notify: twilio request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	msg := strings.TrimSpace(string(raw))
	var apiErr twilioAPIError
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
		msg = fmt.Sprintf("%d %s", apiErr.Code, apiErr.Message)
	}
	retry = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return retry, fmt.Errorf("notify: twilio status %d: %s", resp.StatusCode, msg)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ SMSSender = (*TwilioSender)(nil)
