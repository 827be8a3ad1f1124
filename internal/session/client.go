// Package session is the client side of the chat protocol: it keeps one
// conversation stream alive, reconnecting with exponential backoff.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"beacon/internal/models"
	"beacon/internal/typing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Streaming
	Reconnecting
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Streaming:
		return "streaming"
	case Reconnecting:
		return "reconnecting"
	case Closing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStableAfter       = time.Second
)

var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

type Config struct {
	URL            string
	UserID         string
	UserName       string
	ConversationID string
	Token          string

	HeartbeatInterval time.Duration
	BaseDelay         time.Duration
	MaxAttempts       int
	// StableAfter is how long a stream must stay up before the attempt
	// counter is reset.
	StableAfter  time.Duration
	TypingExpiry time.Duration
	TypingTTL    time.Duration

	Dialer Dialer
	Clock  Clock

	OnStateChange  func(state State, err error)
	OnMessage      func(msg models.Message)
	OnTyping       func(ind models.TypingIndicator)
	OnReadReceipt  func(messageID, userID string)
	OnPresence     func(userID string, online bool)
	OnNotification func(n models.Notification)
	OnError        func(frame models.ServerMessage)
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if c.UserID == "" || c.ConversationID == "" {
		return errors.New("user and conversation are required")
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.StableAfter <= 0 {
		c.StableAfter = DefaultStableAfter
	}
	if c.TypingExpiry <= 0 {
		c.TypingExpiry = typing.ClientExpiry
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = typing.DefaultTTL
	}
	if c.Dialer == nil {
		c.Dialer = WebsocketDialer{}
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	return nil
}

type Client struct {
	config  Config
	view    *MessageView
	typing  *typing.View
	backoff Backoff

	// mu also serializes writes to the transport.
	mu        sync.Mutex
	state     State
	err       error
	gen       uint64
	transport Transport
	ctx       context.Context
	cancel    context.CancelFunc
	typingOn  bool

	heartbeat Timer
	reconnect Timer
	stable    Timer
	typingOff Timer

	// callbacks queued under mu and run after it is released
	queued []func()
}

// NewClient prepares a client. ctx bounds the receiver-side typing cache.
func NewClient(ctx context.Context, config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config:  config,
		view:    NewMessageView(),
		typing:  typing.NewView(ctx, config.TypingTTL),
		backoff: Backoff{Base: config.BaseDelay, MaxAttempts: config.MaxAttempts},
		cancel:  func() {},
	}, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the reason of the last terminal disconnect.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff.Attempt()
}

func (c *Client) View() *MessageView { return c.view }

// Typing returns who else is typing in the conversation right now.
func (c *Client) Typing() []models.TypingIndicator {
	return c.typing.Typing(c.config.ConversationID)
}

func (c *Client) unlock() {
	fns := c.queued
	c.queued = nil
	c.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

func (c *Client) setStateLocked(s State, err error) {
	if c.state == s && err == nil {
		return
	}
	c.state = s
	if cb := c.config.OnStateChange; cb != nil {
		c.queued = append(c.queued, func() { cb(s, err) })
	}
}

func (c *Client) address() string {
	q := url.Values{}
	q.Set("userId", c.config.UserID)
	q.Set("conversationId", c.config.ConversationID)
	return c.config.URL + "?" + q.Encode()
}

// Connect starts streaming. It returns immediately; progress is reported
// through OnStateChange. Calling it on a live client is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state != Disconnected {
		c.unlock()
		return
	}
	c.err = nil
	c.backoff.Reset()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.gen++
	gen := c.gen
	c.setStateLocked(Connecting, nil)
	c.unlock()

	go c.dial(gen)
}

func (c *Client) dial(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.unlock()
		return
	}
	c.setStateLocked(Connecting, nil)
	ctx := c.ctx
	c.unlock()

	t, err := c.config.Dialer.Dial(ctx, c.address())

	c.mu.Lock()
	defer c.unlock()
	if gen != c.gen {
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if err != nil {
		c.failLocked(err)
		return
	}

	c.transport = t
	c.setStateLocked(Authenticating, nil)
	err = c.write(t, models.ClientMessage{
		Type:           models.ClientMessageTypeAuth,
		UserID:         c.config.UserID,
		ConversationID: c.config.ConversationID,
		Token:          c.config.Token,
	})
	if err != nil {
		c.failLocked(err)
		return
	}
	go c.readLoop(gen, t)
}

func (c *Client) readLoop(gen uint64, t Transport) {
	for {
		var frame models.ServerMessage
		err := t.ReadJSON(&frame)

		c.mu.Lock()
		if gen != c.gen {
			c.unlock()
			return
		}
		if err != nil {
			var ce *CloseError
			if errors.As(err, &ce) && ce.Normal() {
				c.teardownLocked("")
				c.setStateLocked(Disconnected, nil)
			} else {
				c.failLocked(fmt.Errorf("%w: %v", models.ErrTransport, err))
			}
			c.unlock()
			return
		}
		c.handleFrameLocked(frame)
		c.unlock()
	}
}

func (c *Client) handleFrameLocked(frame models.ServerMessage) {
	if c.state == Authenticating {
		if frame.Type == models.ServerMessageTypeError {
			// A rejected handshake will not get better by retrying.
			c.teardownLocked("authentication failed")
			c.err = fmt.Errorf("%w: %s", models.ErrUnauthenticated, frame.Error)
			c.setStateLocked(Disconnected, c.err)
			return
		}
		if frame.Type == models.ServerMessageTypeAuthOK && frame.HeartbeatInterval > 0 {
			// The server's ping period wins over the local default.
			c.config.HeartbeatInterval = time.Duration(frame.HeartbeatInterval) * time.Millisecond
		}
		c.enterStreamingLocked()
		if frame.Type == models.ServerMessageTypeAuthOK {
			return
		}
	}

	switch frame.Type {
	case models.ServerMessageTypeMessage:
		if frame.Message == nil {
			return
		}
		msg := *frame.Message
		if c.view.confirm(msg) {
			if cb := c.config.OnMessage; cb != nil {
				c.queued = append(c.queued, func() { cb(msg) })
			}
		}
	case models.ServerMessageTypeTyping:
		if frame.Typing == nil {
			return
		}
		ind := *frame.Typing
		c.typing.Apply(ind)
		if cb := c.config.OnTyping; cb != nil {
			c.queued = append(c.queued, func() { cb(ind) })
		}
	case models.ServerMessageTypeReadReceipt:
		c.view.advance(frame.MessageID, models.MessageStatusRead)
		if cb := c.config.OnReadReceipt; cb != nil {
			c.queued = append(c.queued, func() { cb(frame.MessageID, frame.UserID) })
		}
	case models.ServerMessageTypeUserOnline, models.ServerMessageTypeUserOffline:
		online := frame.Type == models.ServerMessageTypeUserOnline
		if !online {
			c.typing.Apply(models.TypingIndicator{ConversationID: c.config.ConversationID, UserID: frame.UserID})
		}
		if cb := c.config.OnPresence; cb != nil {
			c.queued = append(c.queued, func() { cb(frame.UserID, online) })
		}
	case models.ServerMessageTypeNotification:
		if frame.Notification == nil {
			return
		}
		n := *frame.Notification
		if cb := c.config.OnNotification; cb != nil {
			c.queued = append(c.queued, func() { cb(n) })
		}
	case models.ServerMessageTypePong, models.ServerMessageTypeAuthOK:
	case models.ServerMessageTypeError:
		if frame.ClientID != "" {
			c.view.dropPending(frame.ClientID)
		}
		slog.Warn("server rejected frame", "user_id", c.config.UserID, "error", frame.Error)
		if cb := c.config.OnError; cb != nil {
			c.queued = append(c.queued, func() { cb(frame) })
		}
	default:
		slog.Warn("unknown frame dropped", "user_id", c.config.UserID, "type", frame.Type)
	}
}

func (c *Client) enterStreamingLocked() {
	c.setStateLocked(Streaming, nil)
	gen := c.gen
	c.stable = c.config.Clock.AfterFunc(c.config.StableAfter, func() {
		c.mu.Lock()
		defer c.unlock()
		if gen == c.gen && c.state == Streaming {
			c.backoff.Reset()
		}
	})
	c.scheduleHeartbeatLocked(gen)
}

func (c *Client) scheduleHeartbeatLocked(gen uint64) {
	c.heartbeat = c.config.Clock.AfterFunc(c.config.HeartbeatInterval, func() {
		c.mu.Lock()
		defer c.unlock()
		if gen != c.gen || c.state != Streaming {
			return
		}
		if err := c.write(c.transport, models.ClientMessage{Type: models.ClientMessageTypePing}); err != nil {
			c.failLocked(err)
			return
		}
		c.scheduleHeartbeatLocked(gen)
	})
}

// failLocked handles an abnormal end of the current attempt: the transport
// is torn down and a reconnect is scheduled unless attempts are exhausted.
func (c *Client) failLocked(cause error) {
	c.teardownLocked("reconnecting")

	delay, ok := c.backoff.Next()
	if !ok {
		c.err = fmt.Errorf("%w: %d attempts, last error: %v", ErrReconnectExhausted, c.config.MaxAttempts, cause)
		c.cancel()
		c.setStateLocked(Disconnected, c.err)
		return
	}

	slog.Warn("connection lost, reconnecting",
		"user_id", c.config.UserID,
		"conversation_id", c.config.ConversationID,
		"attempt", c.backoff.Attempt(),
		"delay", delay,
		"error", cause,
	)
	c.setStateLocked(Reconnecting, cause)
	gen := c.gen
	c.reconnect = c.config.Clock.AfterFunc(delay, func() { c.dial(gen) })
}

// teardownLocked stops every timer and closes the transport. A non-empty
// reason is sent to the server in an abnormal close frame.
func (c *Client) teardownLocked(reason string) {
	c.gen++
	for _, t := range []Timer{c.heartbeat, c.reconnect, c.stable, c.typingOff} {
		if t != nil {
			t.Stop()
		}
	}
	c.heartbeat, c.reconnect, c.stable, c.typingOff = nil, nil, nil, nil
	c.typingOn = false

	if c.transport == nil {
		return
	}
	if reason != "" {
		_ = c.transport.WriteClose(websocket.CloseGoingAway, reason)
	}
	_ = c.transport.Close()
	c.transport = nil
}

// Disconnect closes the stream normally. No reconnect follows.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.unlock()
	if c.state == Disconnected {
		return
	}
	c.setStateLocked(Closing, nil)
	t := c.transport
	c.transport = nil
	c.teardownLocked("")
	if t != nil {
		_ = t.WriteClose(models.CloseNormal, "client disconnect")
		_ = t.Close()
	}
	c.cancel()
	c.err = nil
	c.setStateLocked(Disconnected, nil)
}

func (c *Client) write(t Transport, msg models.ClientMessage) error {
	if t == nil {
		return models.ErrNotStreaming
	}
	if err := t.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	return nil
}

// sendLocked writes a frame on the live stream. A write failure starts the
// reconnect policy.
func (c *Client) sendLocked(msg models.ClientMessage) bool {
	if c.state != Streaming {
		slog.Error("cannot send while not streaming", "user_id", c.config.UserID, "type", msg.Type, "state", c.state)
		return false
	}
	if err := c.write(c.transport, msg); err != nil {
		c.failLocked(err)
		return false
	}
	return true
}

// SendMessage queues an optimistic message and sends it. It returns false
// when the client is not streaming.
func (c *Client) SendMessage(content string, msgType models.MessageType, attachments []models.Attachment) bool {
	c.mu.Lock()
	defer c.unlock()

	if msgType == "" {
		msgType = models.MessageTypeText
	}
	clientID := uuid.NewString()
	ok := c.sendLocked(models.ClientMessage{
		Type:           models.ClientMessageTypeSendMessage,
		SenderID:       c.config.UserID,
		ConversationID: c.config.ConversationID,
		Content:        content,
		MessageType:    msgType,
		Attachments:    attachments,
		ClientID:       clientID,
	})
	if !ok {
		return false
	}
	c.view.addPending(models.Message{
		ClientID:       clientID,
		ConversationID: c.config.ConversationID,
		SenderID:       c.config.UserID,
		Content:        content,
		Type:           msgType,
		Attachments:    attachments,
		Timestamp:      c.config.Clock.Now().UnixMilli(),
		Status:         models.MessageStatusSending,
	})
	return true
}

// SendTyping is debounced: repeated true calls only re-arm the expiry timer,
// which sends isTyping=false by itself after TypingExpiry.
func (c *Client) SendTyping(isTyping bool) bool {
	c.mu.Lock()
	defer c.unlock()

	if c.typingOff != nil {
		c.typingOff.Stop()
		c.typingOff = nil
	}

	if !isTyping {
		if !c.typingOn {
			return true
		}
		c.typingOn = false
		return c.sendTypingLocked(false)
	}

	if !c.typingOn {
		if !c.sendTypingLocked(true) {
			return false
		}
		c.typingOn = true
	}
	gen := c.gen
	c.typingOff = c.config.Clock.AfterFunc(c.config.TypingExpiry, func() {
		c.mu.Lock()
		defer c.unlock()
		if gen != c.gen || !c.typingOn {
			return
		}
		c.typingOn = false
		c.typingOff = nil
		c.sendTypingLocked(false)
	})
	return true
}

func (c *Client) sendTypingLocked(isTyping bool) bool {
	return c.sendLocked(models.ClientMessage{
		Type:           models.ClientMessageTypeTyping,
		UserID:         c.config.UserID,
		UserName:       c.config.UserName,
		ConversationID: c.config.ConversationID,
		IsTyping:       isTyping,
	})
}

func (c *Client) MarkMessageRead(messageID string) bool {
	c.mu.Lock()
	defer c.unlock()
	return c.sendLocked(models.ClientMessage{
		Type:      models.ClientMessageTypeMarkRead,
		UserID:    c.config.UserID,
		MessageID: messageID,
	})
}
