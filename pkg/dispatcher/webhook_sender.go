package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultWebhookTimeout = 30 * time.Second

var ErrWebhookServerError = errors.New("webhook server error")

// RetryConfig retries server errors and transport failures of a single delivery.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// WebhookSender POSTs the message as JSON to msg.Target.
type WebhookSender struct {
	client *http.Client
	retry  RetryConfig
	logger *slog.Logger
}

type WebhookOption func(*WebhookSender)

func WithTimeout(timeout time.Duration) WebhookOption {
	return func(s *WebhookSender) {
		if timeout > 0 {
			s.client.Timeout = timeout
		}
	}
}

func WithRetry(retry RetryConfig) WebhookOption {
	return func(s *WebhookSender) {
		if retry.Attempts > 0 {
			s.retry = retry
		}
	}
}

func WithHTTPClient(client *http.Client) WebhookOption {
	return func(s *WebhookSender) { s.client = client }
}

func NewWebhookSender(logger *slog.Logger, opts ...WebhookOption) *WebhookSender {
	s := &WebhookSender{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultWebhookTimeout,
		},
		retry:  RetryConfig{Attempts: 1},
		logger: logger.With("module", "webhook_sender"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	if msg.Target == "" {
		return fmt.Errorf("%w: webhook target is empty", ErrDeliveryFailed)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= s.retry.Attempts; attempt++ {
		if attempt > 1 {
			s.logger.InfoContext(ctx, "Webhook retry", "attempt", attempt, "max_attempts", s.retry.Attempts, "target", msg.Target)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retry.Delay):
			}
		}

		lastErr = s.post(ctx, msg.Target, payload)
		if lastErr == nil {
			return nil
		}

		if !errors.Is(lastErr, ErrWebhookServerError) && !errors.Is(lastErr, errTransport) {
			break
		}
	}

	return fmt.Errorf("%w: %w", ErrDeliveryFailed, lastErr)
}

var errTransport = errors.New("webhook transport error")

func (s *WebhookSender) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errTransport, err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)

		if err := resp.Body.Close(); err != nil {
			s.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", ErrWebhookServerError, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("webhook rejected with status %d", resp.StatusCode)
	default:
		return nil
	}
}
