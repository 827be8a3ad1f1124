package ws

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"beacon/internal/auth"
	"beacon/internal/chat"
	"beacon/internal/models"
	"beacon/internal/push"
	"beacon/internal/ratelimit"
	"beacon/internal/registry"
	"beacon/internal/storage"
	"beacon/internal/typing"

	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (f *fakeNotifier) Deliver(_ context.Context, ev models.NotificationEvent) (push.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return push.Result{Notification: models.Notification{UserID: ev.UserID, Type: ev.Type}}, nil
}

func (f *fakeNotifier) Events() []models.NotificationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.NotificationEvent(nil), f.events...)
}

type hubFixture struct {
	ctx      context.Context
	hub      *Hub
	auth     *auth.AuthService
	store    *chat.Store
	registry *registry.Registry
	notifier *fakeNotifier
}

func newHubFixture(t *testing.T, rule ratelimit.Rule) *hubFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	authSvc, err := auth.NewAuthService(ctx, auth.Config{
		Secret: base64.StdEncoding.EncodeToString([]byte("hub-secret")),
	})
	require.NoError(t, err)

	reg := registry.New()
	store := chat.NewStore(db, chat.Config{})
	notifier := &fakeNotifier{}
	hub := NewHub(ctx, HubConfig{
		Tokens:   authSvc,
		Registry: reg,
		Store:    store,
		Typing:   typing.NewCoordinator(reg, typing.NewView(ctx, typing.DefaultTTL)),
		Notifier: notifier,
		Limiter:  ratelimit.NewMemoryLimiter(ctx, rule),
	})

	_, err = store.CreateConversation("conv1", []string{"alice", "bob"})
	require.NoError(t, err)

	return &hubFixture{ctx: ctx, hub: hub, auth: authSvc, store: store, registry: reg, notifier: notifier}
}

type client struct {
	conn *Connection
	ws   *mockWS
	done chan error
}

func (f *hubFixture) connect(t *testing.T, userID string) *client {
	t.Helper()
	token, err := f.auth.IssueToken(userID)
	require.NoError(t, err)

	ws := newMockWS()
	ws.writeCh = make(chan any, 100)
	c := &client{conn: NewConnection(f.hub, ws, time.Second), ws: ws, done: make(chan error, 1)}
	go func() {
		c.done <- c.conn.Handle(f.ctx)
	}()

	ws.readCh <- models.ClientMessage{
		Type:           models.ClientMessageTypeAuth,
		Token:          token.Token,
		UserID:         userID,
		ConversationID: "conv1",
	}
	c.expect(t, models.ServerMessageTypeAuthOK)
	return c
}

// expect skips frames until one of type typ arrives.
func (c *client) expect(t *testing.T, typ models.ServerMessageType) models.ServerMessage {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case v := <-c.ws.writeCh:
			msg := v.(models.ServerMessage)
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s frame received", typ)
			return models.ServerMessage{}
		}
	}
}

func (c *client) none(t *testing.T, typ models.ServerMessageType) {
	t.Helper()
	for {
		select {
		case v := <-c.ws.writeCh:
			if msg := v.(models.ServerMessage); msg.Type == typ {
				t.Fatalf("unexpected %s frame: %+v", typ, msg)
			}
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func (c *client) close(t *testing.T) {
	t.Helper()
	_ = c.ws.Close()
	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("connection did not stop")
	}
}

func TestHub_MessageFlow(t *testing.T) {
	f := newHubFixture(t, ratelimit.DefaultMessageRule)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	online := alice.expect(t, models.ServerMessageTypeUserOnline)
	require.Equal(t, "bob", online.UserID)

	alice.ws.readCh <- models.ClientMessage{
		Type:     models.ClientMessageTypeSendMessage,
		Content:  "hi **bob**",
		ClientID: "tmp-1",
	}

	got := bob.expect(t, models.ServerMessageTypeMessage)
	require.Equal(t, "alice", got.Message.SenderID)
	require.Equal(t, int64(1), got.Message.Seq)
	require.Contains(t, got.Message.HTML, "<strong>bob</strong>")

	echo := alice.expect(t, models.ServerMessageTypeMessage)
	require.Equal(t, "tmp-1", echo.Message.ClientID)
	require.Equal(t, got.Message.ID, echo.Message.ID)

	require.Eventually(t, func() bool {
		stored, err := f.store.Get(got.Message.ID)
		return err == nil && stored.Status == models.MessageStatusDelivered
	}, time.Second, 10*time.Millisecond)

	// Read receipt goes back to the sender.
	bob.ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeMarkRead, MessageID: got.Message.ID}
	receipt := alice.expect(t, models.ServerMessageTypeReadReceipt)
	require.Equal(t, got.Message.ID, receipt.MessageID)
	require.Equal(t, "bob", receipt.UserID)

	stored, err := f.store.Get(got.Message.ID)
	require.NoError(t, err)
	require.Equal(t, models.MessageStatusRead, stored.Status)

	// Both were online, nothing to notify.
	f.hub.Wait()
	require.Empty(t, f.notifier.Events())

	alice.close(t)
	offline := bob.expect(t, models.ServerMessageTypeUserOffline)
	require.Equal(t, "alice", offline.UserID)
	bob.close(t)
	require.Equal(t, 0, f.registry.Len())
}

func TestHub_Typing(t *testing.T) {
	f := newHubFixture(t, ratelimit.DefaultMessageRule)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	alice.ws.readCh <- models.ClientMessage{
		Type:     models.ClientMessageTypeTyping,
		UserName: "<b>Alice</b>",
		IsTyping: true,
	}
	frame := bob.expect(t, models.ServerMessageTypeTyping)
	require.True(t, frame.Typing.IsTyping)
	require.Equal(t, "Alice", frame.Typing.UserName)
	alice.none(t, models.ServerMessageTypeTyping)

	// Leaving while typing clears the indicator for everyone else.
	alice.close(t)
	frame = bob.expect(t, models.ServerMessageTypeTyping)
	require.Equal(t, "alice", frame.Typing.UserID)
	require.False(t, frame.Typing.IsTyping)
}

func TestHub_OfflineParticipantGetsNotification(t *testing.T) {
	f := newHubFixture(t, ratelimit.DefaultMessageRule)
	alice := f.connect(t, "alice")

	alice.ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeSendMessage, Content: "are you there?"}
	msg := alice.expect(t, models.ServerMessageTypeMessage)
	// Only the sender saw it.
	require.Equal(t, models.MessageStatusSent, msg.Message.Status)

	f.hub.Wait()
	events := f.notifier.Events()
	require.Len(t, events, 1)
	require.Equal(t, "bob", events[0].UserID)
	require.Equal(t, "new_message", events[0].Type)
	require.Equal(t, "conv1", events[0].Data["conversationId"])
	require.Equal(t, "are you there?", events[0].Message)
}

func TestHub_Rejections(t *testing.T) {
	f := newHubFixture(t, ratelimit.Rule{Limit: 1, Window: time.Hour})

	t.Run("NotParticipant", func(t *testing.T) {
		token, err := f.auth.IssueToken("carol")
		require.NoError(t, err)
		_, err = f.hub.Authenticate(token.Token, "carol", "conv1")
		require.ErrorIs(t, err, models.ErrNotParticipant)
	})

	t.Run("TokenOfSomeoneElse", func(t *testing.T) {
		token, err := f.auth.IssueToken("bob")
		require.NoError(t, err)
		_, err = f.hub.Authenticate(token.Token, "alice", "conv1")
		require.ErrorIs(t, err, models.ErrUnauthenticated)
	})

	t.Run("BadToken", func(t *testing.T) {
		_, err := f.hub.Authenticate("nope", "", "conv1")
		require.ErrorIs(t, err, models.ErrUnauthenticated)
	})

	t.Run("RateLimitAndSpoofing", func(t *testing.T) {
		alice := f.connect(t, "alice")

		alice.ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeSendMessage, SenderID: "bob", Content: "spoof"}
		errFrame := alice.expect(t, models.ServerMessageTypeError)
		require.Contains(t, errFrame.Error, models.ErrForbidden.Error())

		alice.ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeSendMessage, Content: "one"}
		alice.expect(t, models.ServerMessageTypeMessage)

		alice.ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeSendMessage, Content: "two", ClientID: "c2"}
		errFrame = alice.expect(t, models.ServerMessageTypeError)
		require.Equal(t, "c2", errFrame.ClientID)
		require.Equal(t, models.ErrRateLimited.Error(), errFrame.Error)

		alice.close(t)
	})
}

func TestHub_DisconnectUser(t *testing.T) {
	f := newHubFixture(t, ratelimit.DefaultMessageRule)
	phone := f.connect(t, "alice")
	laptop := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	require.Equal(t, 2, f.hub.DisconnectUser("alice", "token revoked"))
	for _, c := range []*client{phone, laptop} {
		require.Equal(t, "token revoked", c.expect(t, models.ServerMessageTypeError).Error)
		select {
		case <-c.done:
		case <-time.After(time.Second):
			t.Fatal("kicked connection did not stop")
		}
	}

	// One offline event once the last device is gone.
	bob.expect(t, models.ServerMessageTypeUserOffline)
	bob.none(t, models.ServerMessageTypeUserOffline)
	require.False(t, f.registry.IsOnline("alice"))
	bob.close(t)
}
