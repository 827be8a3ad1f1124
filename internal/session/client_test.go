package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"beacon/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	states   []State
	messages []models.Message
	presence map[string]bool
	receipts []string
}

func (r *recorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) Messages() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Message(nil), r.messages...)
}

type fixture struct {
	client *Client
	clock  *fakeClock
	dialer *fakeDialer
	rec    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{
		clock:  newFakeClock(),
		dialer: newFakeDialer(),
		rec:    &recorder{presence: make(map[string]bool)},
	}
	rec := f.rec
	client, err := NewClient(ctx, Config{
		URL:            "ws://chat.test/ws",
		UserID:         "alice",
		UserName:       "Alice",
		ConversationID: "conv1",
		Token:          "tok",
		Dialer:         f.dialer,
		Clock:          f.clock,
		OnStateChange: func(s State, _ error) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.states = append(rec.states, s)
		},
		OnMessage: func(msg models.Message) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.messages = append(rec.messages, msg)
		},
		OnPresence: func(userID string, online bool) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.presence[userID] = online
		},
		OnReadReceipt: func(messageID, _ string) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.receipts = append(rec.receipts, messageID)
		},
	})
	require.NoError(t, err)
	f.client = client
	t.Cleanup(client.Disconnect)
	return f
}

func (f *fixture) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.client.State() == s }, time.Second, 5*time.Millisecond,
		"expected %s, got %s", s, f.client.State())
}

// stream connects and completes the handshake.
func (f *fixture) stream(t *testing.T) *fakeTransport {
	t.Helper()
	f.client.Connect(context.Background())
	return f.handshake(t)
}

func (f *fixture) handshake(t *testing.T) *fakeTransport {
	t.Helper()
	tr := f.dialer.transport(t)
	auth := tr.next(t)
	require.Equal(t, models.ClientMessageTypeAuth, auth.Type)
	require.Equal(t, "alice", auth.UserID)
	require.Equal(t, "conv1", auth.ConversationID)
	require.Equal(t, "tok", auth.Token)
	f.waitState(t, Authenticating)

	tr.push(models.ServerMessage{Type: models.ServerMessageTypeAuthOK, UserID: "alice", ConversationID: "conv1"})
	f.waitState(t, Streaming)
	return tr
}

func TestBackoff(t *testing.T) {
	b := Backoff{Base: time.Second, MaxAttempts: 5}
	var delays []time.Duration
	for {
		d, ok := b.Next()
		if !ok {
			break
		}
		delays = append(delays, d)
	}
	require.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, delays)
	require.Equal(t, 5, b.Attempt())

	b.Reset()
	d, ok := b.Next()
	require.True(t, ok)
	require.Equal(t, time.Second, d)
}

func TestClient_Handshake(t *testing.T) {
	f := newFixture(t)
	tr := f.stream(t)

	require.Equal(t, []State{Connecting, Authenticating, Streaming}, f.rec.States())
	require.Contains(t, f.dialer.urls[0], "userId=alice")
	require.Contains(t, f.dialer.urls[0], "conversationId=conv1")

	// Heartbeat every 30 seconds while streaming.
	f.clock.Advance(29 * time.Second)
	tr.quiet(t)
	f.clock.Advance(time.Second)
	require.Equal(t, models.ClientMessageTypePing, tr.next(t).Type)
	f.clock.Advance(30 * time.Second)
	require.Equal(t, models.ClientMessageTypePing, tr.next(t).Type)
}

func TestClient_ServerHeartbeatInterval(t *testing.T) {
	f := newFixture(t)
	f.client.Connect(context.Background())
	tr := f.dialer.transport(t)
	require.Equal(t, models.ClientMessageTypeAuth, tr.next(t).Type)
	f.waitState(t, Authenticating)

	tr.push(models.ServerMessage{
		Type:              models.ServerMessageTypeAuthOK,
		UserID:            "alice",
		ConversationID:    "conv1",
		HeartbeatInterval: (10 * time.Second).Milliseconds(),
	})
	f.waitState(t, Streaming)

	f.clock.Advance(9 * time.Second)
	tr.quiet(t)
	f.clock.Advance(time.Second)
	require.Equal(t, models.ClientMessageTypePing, tr.next(t).Type)
}

func TestClient_SendMessage(t *testing.T) {
	f := newFixture(t)

	require.False(t, f.client.SendMessage("too early", models.MessageTypeText, nil))

	tr := f.stream(t)
	require.True(t, f.client.SendMessage("hello", "", nil))

	frame := tr.next(t)
	require.Equal(t, models.ClientMessageTypeSendMessage, frame.Type)
	require.Equal(t, "alice", frame.SenderID)
	require.Equal(t, models.MessageTypeText, frame.MessageType)
	require.NotEmpty(t, frame.ClientID)

	pending := f.client.View().Pending()
	require.Len(t, pending, 1)
	require.Equal(t, models.MessageStatusSending, pending[0].Status)
	require.Empty(t, f.client.View().Messages())

	tr.push(models.ServerMessage{Type: models.ServerMessageTypeMessage, Message: &models.Message{
		ID:             "m1",
		Seq:            1,
		ConversationID: "conv1",
		SenderID:       "alice",
		Content:        "hello",
		Status:         models.MessageStatusSent,
		ClientID:       frame.ClientID,
	}})
	require.Eventually(t, func() bool { return len(f.rec.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	require.Empty(t, f.client.View().Pending())
	msgs := f.client.View().Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, models.MessageStatusSent, msgs[0].Status)

	// Out-of-order arrival still ends up in sequence order; redelivery is not duplicated.
	tr.push(models.ServerMessage{Type: models.ServerMessageTypeMessage, Message: &models.Message{ID: "m3", Seq: 3}})
	tr.push(models.ServerMessage{Type: models.ServerMessageTypeMessage, Message: &models.Message{ID: "m2", Seq: 2}})
	tr.push(models.ServerMessage{Type: models.ServerMessageTypeMessage, Message: &models.Message{ID: "m2", Seq: 2}})
	require.Eventually(t, func() bool { return len(f.client.View().Messages()) == 3 }, time.Second, 5*time.Millisecond)
	msgs = f.client.View().Messages()
	require.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	require.Len(t, f.rec.Messages(), 3)

	// A rejected optimistic message is dropped from the pending list.
	require.True(t, f.client.SendMessage("spam", "", nil))
	rejected := tr.next(t)
	tr.push(models.ServerMessage{Type: models.ServerMessageTypeError, ClientID: rejected.ClientID, Error: "rate limited"})
	require.Eventually(t, func() bool { return len(f.client.View().Pending()) == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, Streaming, f.client.State())
}

func TestClient_InboundDispatch(t *testing.T) {
	f := newFixture(t)
	tr := f.stream(t)

	tr.push(models.ServerMessage{Type: models.ServerMessageTypeMessage, Message: &models.Message{ID: "m1", Seq: 1, Status: models.MessageStatusDelivered}})
	tr.push(models.ServerMessage{Type: models.ServerMessageTypeTyping, Typing: &models.TypingIndicator{
		ConversationID: "conv1", UserID: "bob", UserName: "Bob", IsTyping: true,
	}})
	tr.push(models.ServerMessage{Type: models.ServerMessageTypeReadReceipt, MessageID: "m1", UserID: "bob"})
	tr.push(models.ServerMessage{Type: models.ServerMessageTypeUserOnline, UserID: "bob"})
	tr.push(models.ServerMessage{Type: "something_new"})

	require.Eventually(t, func() bool {
		f.rec.mu.Lock()
		defer f.rec.mu.Unlock()
		return f.rec.presence["bob"] && len(f.rec.receipts) == 1
	}, time.Second, 5*time.Millisecond)

	typing := f.client.Typing()
	require.Len(t, typing, 1)
	require.Equal(t, "bob", typing[0].UserID)
	require.Equal(t, models.MessageStatusRead, f.client.View().Messages()[0].Status)
	require.Equal(t, Streaming, f.client.State())

	// Going offline clears a stranded typing indicator.
	tr.push(models.ServerMessage{Type: models.ServerMessageTypeUserOffline, UserID: "bob"})
	require.Eventually(t, func() bool { return len(f.client.Typing()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestClient_TypingDebounce(t *testing.T) {
	f := newFixture(t)
	tr := f.stream(t)

	require.True(t, f.client.SendTyping(true))
	frame := tr.next(t)
	require.Equal(t, models.ClientMessageTypeTyping, frame.Type)
	require.True(t, frame.IsTyping)

	f.clock.Advance(2 * time.Second)
	require.True(t, f.client.SendTyping(true))
	tr.quiet(t)

	// The expiry is re-armed by every keystroke.
	f.clock.Advance(2 * time.Second)
	tr.quiet(t)
	f.clock.Advance(time.Second)
	frame = tr.next(t)
	require.False(t, frame.IsTyping)

	// Explicit stop after expiry sends nothing more.
	require.True(t, f.client.SendTyping(false))
	tr.quiet(t)
}

func TestClient_ReconnectBound(t *testing.T) {
	f := newFixture(t)
	f.dialer.SetFail(true)

	f.client.Connect(context.Background())
	f.waitState(t, Reconnecting)
	require.Equal(t, 1, f.dialer.Dials())

	for i, delay := range []time.Duration{1, 2, 4, 8, 16} {
		delay *= time.Second
		f.clock.Advance(delay - time.Millisecond)
		require.Equal(t, i+1, f.dialer.Dials(), "reconnected before %v", delay)
		f.clock.Advance(time.Millisecond)
		require.Equal(t, i+2, f.dialer.Dials())
	}

	require.Equal(t, Disconnected, f.client.State())
	require.ErrorIs(t, f.client.Err(), ErrReconnectExhausted)

	f.clock.Advance(time.Hour)
	require.Equal(t, 6, f.dialer.Dials())
	require.Zero(t, f.clock.Active())

	// An explicit Connect starts over.
	f.dialer.SetFail(false)
	f.stream(t)
	require.NoError(t, f.client.Err())
}

func TestClient_AbnormalCloseReconnects(t *testing.T) {
	f := newFixture(t)
	tr := f.stream(t)

	tr.drop(&CloseError{Code: websocket.CloseAbnormalClosure})
	f.waitState(t, Reconnecting)
	require.True(t, tr.isClosed())
	require.Equal(t, []int{websocket.CloseGoingAway}, tr.CloseCodes())
	require.Equal(t, 1, f.client.Attempts())

	f.clock.Advance(time.Second)
	tr = f.handshake(t)

	// Flapping: a stream that dies before it is stable keeps the counter.
	tr.drop(&CloseError{Code: websocket.CloseAbnormalClosure})
	f.waitState(t, Reconnecting)
	require.Equal(t, 2, f.client.Attempts())

	f.clock.Advance(2 * time.Second)
	f.handshake(t)
	f.clock.Advance(DefaultStableAfter)
	require.Equal(t, 0, f.client.Attempts())
}

func TestClient_NormalCloseNoRetry(t *testing.T) {
	f := newFixture(t)
	tr := f.stream(t)

	tr.drop(&CloseError{Code: models.CloseNormal})
	f.waitState(t, Disconnected)
	require.NoError(t, f.client.Err())

	f.clock.Advance(time.Minute)
	require.Equal(t, 1, f.dialer.Dials())
}

func TestClient_AuthRejected(t *testing.T) {
	f := newFixture(t)
	f.client.Connect(context.Background())
	tr := f.dialer.transport(t)
	tr.next(t)
	f.waitState(t, Authenticating)

	tr.push(models.ServerMessage{Type: models.ServerMessageTypeError, Error: "unknown or expired token"})
	f.waitState(t, Disconnected)
	require.ErrorIs(t, f.client.Err(), models.ErrUnauthenticated)

	f.clock.Advance(time.Minute)
	require.Equal(t, 1, f.dialer.Dials())
}

func TestClient_DisconnectClearsTimers(t *testing.T) {
	f := newFixture(t)
	tr := f.stream(t)

	require.True(t, f.client.SendTyping(true))
	tr.next(t)
	require.NotZero(t, f.clock.Active())

	f.client.Disconnect()
	require.Equal(t, Disconnected, f.client.State())
	require.Equal(t, []int{models.CloseNormal}, tr.CloseCodes())
	require.True(t, tr.isClosed())
	require.Zero(t, f.clock.Active())

	f.clock.Advance(time.Hour)
	tr.quiet(t)
	require.Equal(t, 1, f.dialer.Dials())

	states := f.rec.States()
	require.Equal(t, []State{Closing, Disconnected}, states[len(states)-2:])
	require.False(t, f.client.MarkMessageRead("m1"))
}
