// Package push fans notification events out to live connections and to
// platform push subscriptions.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"beacon/internal/metrics"
	"beacon/internal/models"
	"beacon/internal/notify"
	"beacon/internal/registry"

	"golang.org/x/sync/errgroup"
)

const DefaultBulkConcurrency = 8

type SubscriptionStore interface {
	UpsertSubscription(sub models.Subscription) error
	ListSubscriptions(userID string) ([]models.Subscription, error)
	ListAllSubscriptions() ([]models.Subscription, error)
	DeactivateSubscription(userID, endpoint string) error
}

type handleFinder interface {
	FindByUser(userID string) []registry.Handle
}

// Result describes what happened to one delivered event.
type Result struct {
	Notification  models.Notification `json:"notification"`
	LiveDelivered int                 `json:"liveDelivered"`
	PushSent      int                 `json:"pushSent"`
	PushFailed    int                 `json:"pushFailed"`
}

type BulkResult struct {
	Delivered int               `json:"delivered"`
	Failed    int               `json:"failed"`
	Results   map[string]Result `json:"results"`
	Errors    map[string]string `json:"errors,omitempty"`
}

type Status struct {
	Subscribed    bool                  `json:"subscribed"`
	Active        int                   `json:"active"`
	Subscriptions []models.Subscription `json:"subscriptions"`
}

type Stats struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Users       int `json:"users"`
	ActiveUsers int `json:"activeUsers"`
}

type Bridge struct {
	feed      *notify.Feed
	handles   handleFinder
	subs      SubscriptionStore
	sender    Sender
	publicKey string
	bulkLimit int
	now       func() time.Time
}

type Config struct {
	PublicKey       string
	BulkConcurrency int
}

func NewBridge(feed *notify.Feed, handles handleFinder, subs SubscriptionStore, sender Sender, config Config) *Bridge {
	if config.BulkConcurrency <= 0 {
		config.BulkConcurrency = DefaultBulkConcurrency
	}
	return &Bridge{
		feed:      feed,
		handles:   handles,
		subs:      subs,
		sender:    sender,
		publicKey: config.PublicKey,
		bulkLimit: config.BulkConcurrency,
		now:       time.Now,
	}
}

// Deliver persists the event as a notification first, then pushes it over
// every live handle of the user and to every active push subscription.
// Only a persistence failure is returned; transport failures are best effort.
func (b *Bridge) Deliver(ctx context.Context, ev models.NotificationEvent) (Result, error) {
	n, err := b.feed.Create(models.Notification{
		UserID:       ev.UserID,
		Type:         ev.Type,
		Title:        ev.Title,
		Message:      ev.Message,
		Data:         ev.Data,
		Priority:     ev.Priority,
		Category:     ev.Category,
		Actions:      ev.Actions,
		IsActionable: len(ev.Actions) > 0,
	})
	if err != nil {
		return Result{}, err
	}
	metrics.NotificationsTotal.WithLabelValues(n.Type).Inc()

	res := Result{Notification: n}

	frame := models.ServerMessage{
		Type:         models.ServerMessageTypeNotification,
		UserID:       n.UserID,
		Notification: &n,
	}
	for _, h := range b.handles.FindByUser(n.UserID) {
		if h.Send(frame) {
			res.LiveDelivered++
		}
	}

	res.PushSent, res.PushFailed = b.pushAll(ctx, n)
	return res, nil
}

func (b *Bridge) pushAll(ctx context.Context, n models.Notification) (sent, failed int) {
	if b.sender == nil {
		return 0, 0
	}
	subs, err := b.subs.ListSubscriptions(n.UserID)
	if err != nil {
		slog.Warn("failed to list push subscriptions", "user_id", n.UserID, "error", err)
		return 0, 0
	}

	var payload []byte
	for _, sub := range subs {
		if !sub.IsActive {
			continue
		}
		if payload == nil {
			if payload, err = json.Marshal(BuildPayload(n)); err != nil {
				slog.Error("failed to encode push payload", "notification_id", n.ID, "error", err)
				return 0, 0
			}
		}

		err := b.sender.Send(ctx, sub, payload, n.Priority)
		if err == nil {
			sent++
			metrics.PushTotal.WithLabelValues("sent").Inc()
			continue
		}

		failed++
		var se *SendError
		if errors.As(err, &se) && se.Gone() {
			metrics.PushTotal.WithLabelValues("gone").Inc()
			if err := b.subs.DeactivateSubscription(sub.UserID, sub.Endpoint); err != nil {
				slog.Warn("failed to deactivate subscription", "user_id", sub.UserID, "error", err)
			}
			slog.Info("push endpoint gone, subscription deactivated", "user_id", sub.UserID)
			continue
		}
		metrics.PushTotal.WithLabelValues("failed").Inc()
		slog.Warn("push send failed", "user_id", sub.UserID, "notification_id", n.ID, "error", err)
	}
	return sent, failed
}

// SendBulk delivers the same event to many users with bounded concurrency.
// A failure for one user does not stop the others.
func (b *Bridge) SendBulk(ctx context.Context, userIDs []string, ev models.NotificationEvent) BulkResult {
	out := BulkResult{
		Results: make(map[string]Result, len(userIDs)),
		Errors:  make(map[string]string),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.bulkLimit)
	for _, userID := range userIDs {
		g.Go(func() error {
			e := ev
			e.UserID = userID
			res, err := b.Deliver(gctx, e)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failed++
				out.Errors[userID] = err.Error()
				return nil
			}
			out.Delivered++
			out.Results[userID] = res
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Test sends a low-priority notification so a user can check their setup.
func (b *Bridge) Test(ctx context.Context, userID string) (Result, error) {
	return b.Deliver(ctx, models.NotificationEvent{
		UserID:   userID,
		Type:     "test",
		Title:    "Test notification",
		Message:  "Push notifications are working",
		Priority: models.PriorityLow,
		Category: "system",
	})
}

// Subscribe registers or refreshes a platform push endpoint.
func (b *Bridge) Subscribe(userID string, sub models.Subscription) (models.Subscription, error) {
	if userID == "" {
		return models.Subscription{}, fmt.Errorf("%w: userId is required", models.ErrInvalidRequest)
	}
	u, err := url.Parse(sub.Endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return models.Subscription{}, fmt.Errorf("%w: invalid subscription endpoint", models.ErrInvalidRequest)
	}
	if sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return models.Subscription{}, fmt.Errorf("%w: subscription keys are required", models.ErrInvalidRequest)
	}

	sub.UserID = userID
	sub.CreatedAt = b.now().UnixMilli()
	sub.IsActive = true
	if err := b.subs.UpsertSubscription(sub); err != nil {
		return models.Subscription{}, fmt.Errorf("failed to store subscription: %w", err)
	}
	return sub, nil
}

func (b *Bridge) Unsubscribe(userID, endpoint string) error {
	return b.subs.DeactivateSubscription(userID, endpoint)
}

func (b *Bridge) Status(userID string) (Status, error) {
	subs, err := b.subs.ListSubscriptions(userID)
	if err != nil {
		return Status{}, err
	}
	st := Status{Subscriptions: subs}
	if st.Subscriptions == nil {
		st.Subscriptions = []models.Subscription{}
	}
	for _, s := range subs {
		if s.IsActive {
			st.Active++
		}
	}
	st.Subscribed = st.Active > 0
	return st, nil
}

func (b *Bridge) Stats() (Stats, error) {
	subs, err := b.subs.ListAllSubscriptions()
	if err != nil {
		return Stats{}, err
	}
	users := make(map[string]bool)
	var st Stats
	for _, s := range subs {
		st.Total++
		if s.IsActive {
			st.Active++
			users[s.UserID] = true
		} else if _, ok := users[s.UserID]; !ok {
			users[s.UserID] = false
		}
	}
	st.Users = len(users)
	for _, active := range users {
		if active {
			st.ActiveUsers++
		}
	}
	return st, nil
}

func (b *Bridge) VAPIDKey() string {
	return b.publicKey
}
