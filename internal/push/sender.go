package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"beacon/internal/metrics"
	"beacon/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sony/gobreaker"
)

const DefaultTTL = 24 * time.Hour

// Sender delivers an encrypted payload to one platform push endpoint.
type Sender interface {
	Send(ctx context.Context, sub models.Subscription, payload []byte, priority models.Priority) error
}

// SendError is a non-2xx answer of the push service.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("push service answered %d: %s", e.StatusCode, e.Body)
}

func (e *SendError) Unwrap() error {
	return models.ErrDeliveryBestEffort
}

// Gone reports whether the endpoint no longer exists and should be dropped.
func (e *SendError) Gone() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
	TTL        time.Duration
}

func (c *VAPIDConfig) Validate() error {
	if c.PublicKey == "" || c.PrivateKey == "" {
		return errors.New("vapid key pair is required")
	}
	if c.Subscriber == "" {
		return errors.New("vapid subscriber is required")
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	return nil
}

// WebPushSender sends through the Web Push protocol. A circuit breaker stops
// hammering the push service while it answers with server errors.
type WebPushSender struct {
	config VAPIDConfig
	client webpush.HTTPClient
	cb     *gobreaker.CircuitBreaker
}

func NewWebPushSender(config VAPIDConfig, client webpush.HTTPClient) (*WebPushSender, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	st := gobreaker.Settings{
		Name:        "webpush",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors are about one subscription, not the push service.
		IsSuccessful: func(err error) bool {
			var se *SendError
			return err == nil || (errors.As(err, &se) && se.StatusCode < 500)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &WebPushSender{
		config: config,
		client: client,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

func urgency(p models.Priority) webpush.Urgency {
	switch p {
	case models.PriorityLow:
		return webpush.UrgencyLow
	case models.PriorityHigh, models.PriorityUrgent:
		return webpush.UrgencyHigh
	}
	return webpush.UrgencyNormal
}

func (s *WebPushSender) Send(ctx context.Context, sub models.Subscription, payload []byte, priority models.Priority) error {
	start := time.Now()
	defer func() {
		metrics.PushLatency.Observe(time.Since(start).Seconds())
	}()

	_, err := s.cb.Execute(func() (interface{}, error) {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				Auth:   sub.Keys.Auth,
				P256dh: sub.Keys.P256dh,
			},
		}, &webpush.Options{
			HTTPClient:      s.client,
			Subscriber:      s.config.Subscriber,
			VAPIDPublicKey:  s.config.PublicKey,
			VAPIDPrivateKey: s.config.PrivateKey,
			TTL:             int(s.config.TTL.Seconds()),
			Urgency:         urgency(priority),
		})
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, &SendError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	})

	var se *SendError
	if err != nil && !errors.As(err, &se) {
		return fmt.Errorf("%w: %v", models.ErrDeliveryBestEffort, err)
	}
	return err
}
