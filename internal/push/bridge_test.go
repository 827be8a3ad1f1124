package push

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"beacon/internal/models"
	"beacon/internal/notify"
	"beacon/internal/registry"
	"beacon/internal/storage"

	"github.com/stretchr/testify/require"
)

type sentPush struct {
	sub      models.Subscription
	payload  Payload
	priority models.Priority
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentPush
	errs map[string]error // by endpoint
}

func (f *fakeSender) Send(ctx context.Context, sub models.Subscription, payload []byte, priority models.Priority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[sub.Endpoint]; ok {
		return err
	}
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	f.sent = append(f.sent, sentPush{sub: sub, payload: p, priority: priority})
	return nil
}

type fakeHandle struct {
	id, userID string
	sent       []models.ServerMessage
}

func (f *fakeHandle) ID() string          { return f.id }
func (f *fakeHandle) UserID() string      { return f.userID }
func (f *fakeHandle) Authenticated() bool { return true }
func (f *fakeHandle) Send(msg models.ServerMessage) bool {
	f.sent = append(f.sent, msg)
	return true
}

type fixture struct {
	bridge *Bridge
	feed   *notify.Feed
	reg    *registry.Registry
	sender *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "push.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		feed:   notify.NewFeed(db),
		reg:    registry.New(),
		sender: &fakeSender{errs: map[string]error{}},
	}
	f.bridge = NewBridge(f.feed, f.reg, db, f.sender, Config{PublicKey: "BPUB"})
	return f
}

func (f *fixture) subscribe(t *testing.T, userID, endpoint string) {
	t.Helper()
	_, err := f.bridge.Subscribe(userID, models.Subscription{
		Endpoint: endpoint,
		Keys:     models.PushKeys{P256dh: "p256", Auth: "auth"},
	})
	require.NoError(t, err)
}

func bookingRequest(userID string) models.NotificationEvent {
	return models.NotificationEvent{
		UserID:   userID,
		Type:     "booking_request",
		Title:    "New booking request",
		Message:  "Alice booked Yoga",
		Data:     map[string]any{"bookingId": "b1"},
		Priority: models.PriorityHigh,
		Actions: []models.Action{
			{ID: "accept", Label: "Accept"},
			{ID: "decline", Label: "Decline"},
		},
	}
}

func TestBridge_OfflineUserGetsOnePush(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "pro", "https://push.example.com/pro")

	res, err := f.bridge.Deliver(context.Background(), bookingRequest("pro"))
	require.NoError(t, err)
	require.Zero(t, res.LiveDelivered)
	require.Equal(t, 1, res.PushSent)

	page, err := f.feed.List("pro")
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
	require.Equal(t, 1, page.UnreadCount)
	require.True(t, page.Notifications[0].IsActionable)

	require.Len(t, f.sender.sent, 1)
	p := f.sender.sent[0].payload
	require.True(t, p.RequireInteraction)
	require.Equal(t, []string{"accept", "decline"}, []string{p.Actions[0].Action, p.Actions[1].Action})
	require.Equal(t, models.PriorityHigh, f.sender.sent[0].priority)
}

func TestBridge_LiveAndPush(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "alice", "https://push.example.com/alice")

	tab1 := &fakeHandle{id: "t1", userID: "alice"}
	tab2 := &fakeHandle{id: "t2", userID: "alice"}
	require.NoError(t, f.reg.Register("alice", "c1", tab1))
	require.NoError(t, f.reg.Register("alice", "c2", tab2))

	res, err := f.bridge.Deliver(context.Background(), models.NotificationEvent{
		UserID: "alice", Type: "payment_received", Title: "Paid", Message: "$20",
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.LiveDelivered)
	require.Equal(t, 1, res.PushSent)

	require.Equal(t, models.ServerMessageTypeNotification, tab1.sent[0].Type)
	require.Equal(t, res.Notification.ID, tab1.sent[0].Notification.ID)
}

func TestBridge_NoTransportStillPersists(t *testing.T) {
	f := newFixture(t)

	res, err := f.bridge.Deliver(context.Background(), models.NotificationEvent{UserID: "bob", Type: "reminder", Title: "Soon"})
	require.NoError(t, err)
	require.Zero(t, res.LiveDelivered+res.PushSent+res.PushFailed)

	page, err := f.feed.List("bob")
	require.NoError(t, err)
	require.Equal(t, 1, page.UnreadCount)

	_, err = f.bridge.Deliver(context.Background(), models.NotificationEvent{UserID: "bob"})
	require.True(t, errors.Is(err, models.ErrInvalidRequest))
}

func TestBridge_PushFailures(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "alice", "https://push.example.com/dead")
	f.subscribe(t, "alice", "https://push.example.com/flaky")
	f.subscribe(t, "alice", "https://push.example.com/ok")
	f.sender.errs["https://push.example.com/dead"] = &SendError{StatusCode: 410}
	f.sender.errs["https://push.example.com/flaky"] = &SendError{StatusCode: 503}

	res, err := f.bridge.Deliver(context.Background(), models.NotificationEvent{UserID: "alice", Type: "reminder", Title: "t"})
	require.NoError(t, err, "push failures are best effort")
	require.Equal(t, 1, res.PushSent)
	require.Equal(t, 2, res.PushFailed)

	st, err := f.bridge.Status("alice")
	require.NoError(t, err)
	require.Equal(t, 2, st.Active, "only the gone endpoint is deactivated")
	require.True(t, st.Subscribed)

	page, err := f.feed.List("alice")
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
}

func TestBridge_Subscriptions(t *testing.T) {
	f := newFixture(t)

	_, err := f.bridge.Subscribe("alice", models.Subscription{Endpoint: "ftp://x", Keys: models.PushKeys{P256dh: "a", Auth: "b"}})
	require.True(t, errors.Is(err, models.ErrInvalidRequest))
	_, err = f.bridge.Subscribe("alice", models.Subscription{Endpoint: "https://push.example.com/a"})
	require.True(t, errors.Is(err, models.ErrInvalidRequest))

	f.subscribe(t, "alice", "https://push.example.com/a")
	f.subscribe(t, "bob", "https://push.example.com/b")
	require.NoError(t, f.bridge.Unsubscribe("bob", "https://push.example.com/b"))
	require.True(t, errors.Is(f.bridge.Unsubscribe("bob", "https://push.example.com/none"), models.ErrNotFound))

	st, err := f.bridge.Status("bob")
	require.NoError(t, err)
	require.False(t, st.Subscribed)
	require.Len(t, st.Subscriptions, 1)

	stats, err := f.bridge.Stats()
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 2, Active: 1, Users: 2, ActiveUsers: 1}, stats)

	require.Equal(t, "BPUB", f.bridge.VAPIDKey())
}

func TestBridge_SendBulkAndTest(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "u1", "https://push.example.com/u1")
	f.subscribe(t, "u2", "https://push.example.com/u2")

	out := f.bridge.SendBulk(context.Background(), []string{"u1", "u2", "u3"}, models.NotificationEvent{
		Type: "reminder", Title: "Maintenance tonight",
	})
	require.Equal(t, 3, out.Delivered)
	require.Zero(t, out.Failed)
	require.Equal(t, 1, out.Results["u1"].PushSent)
	require.Zero(t, out.Results["u3"].PushSent)

	res, err := f.bridge.Test(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "test", res.Notification.Type)
	require.Equal(t, 1, res.PushSent)
	require.Len(t, f.sender.sent, 3)
}

func TestBridge_SendBulkLeavesEventUntouched(t *testing.T) {
	f := newFixture(t)

	users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	ev := models.NotificationEvent{
		Type:    "reminder",
		Title:   "Session soon",
		Data:    map[string]any{"bookingId": "b1"},
		Actions: []models.Action{{ID: "go", Label: "Open"}},
	}
	out := f.bridge.SendBulk(context.Background(), users, ev)
	require.Equal(t, len(users), out.Delivered)

	// Defaults are applied to the stored copies only.
	require.Empty(t, ev.Actions[0].Kind)
	for _, u := range users {
		n := out.Results[u].Notification
		require.Equal(t, models.ActionKindButton, n.Actions[0].Kind)
		require.Equal(t, u, n.UserID)
	}
}
