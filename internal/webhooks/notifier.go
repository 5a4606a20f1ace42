package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SignatureHeader carries "sha256=<hex HMAC of the body>".
const SignatureHeader = "X-Protrace-Signature"

// EventHeader carries the event type.
const EventHeader = "X-Protrace-Event"

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Notifier POSTs signed events to a fixed set of endpoints.
type Notifier struct {
	urls       []string
	secret     []byte
	httpClient *http.Client
	delays     []time.Duration // wait before attempts 2..n
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// NewNotifier creates a Notifier. Every body is signed with secret.
func NewNotifier(urls []string, secret string, logger *zap.Logger) *Notifier {
	return &Notifier{
		urls:       urls,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{1 * time.Second, 5 * time.Second, 25 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (n *Notifier) SetMetricsRecorder(fn MetricsRecorder) {
	n.onMetrics = fn
}

// SetRetryDelays replaces the backoff between attempts. len(delays)+1
// attempts are made per endpoint.
func (n *Notifier) SetRetryDelays(delays []time.Duration) {
	n.delays = delays
}

// NewEvent wraps payload in an Event with a fresh ID.
func NewEvent(eventType string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Dispatch delivers event to every endpoint in the background.
func (n *Notifier) Dispatch(ctx context.Context, event Event) {
	for _, url := range n.urls {
		go func(url string) {
			if _, err := n.Deliver(ctx, url, event); err != nil {
				n.logger.Error("webhook: giving up", zap.String("url", url), zap.String("event", event.ID), zap.Error(err))
			}
		}(url)
	}
}

// Deliver sends event to url, retrying on failure, and returns every attempt.
func (n *Notifier) Deliver(ctx context.Context, url string, event Event) ([]Delivery, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	signature := Sign(body, n.secret)

	var attempts []Delivery
	for attempt := 1; attempt <= len(n.delays)+1; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(n.delays[attempt-2]):
			case <-ctx.Done():
				return attempts, ctx.Err()
			}
		}

		d := n.doDelivery(ctx, url, event, body, signature)
		d.Attempt = attempt
		attempts = append(attempts, d)
		if n.onMetrics != nil {
			n.onMetrics(d.Success)
		}
		if d.Success {
			return attempts, nil
		}

		n.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.String("error", d.Error),
		)
	}
	return attempts, errors.New(attempts[len(attempts)-1].Error)
}

func (n *Notifier) doDelivery(ctx context.Context, url string, event Event, body []byte, signature string) Delivery {
	d := Delivery{URL: url, EventID: event.ID}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set(EventHeader, event.Type)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	d.StatusCode = resp.StatusCode
	d.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !d.Success {
		d.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return d
}

// Sign computes the signature header value for body.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body. Receivers use it to
// authenticate deliveries.
func Verify(body, secret []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
