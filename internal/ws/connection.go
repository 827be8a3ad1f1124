package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"beacon/internal/metrics"
	"beacon/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultReadTimeout = 90 * time.Second
	outboxSize         = 100
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
}

type messageHub interface {
	Authenticate(token, userID, conversationID string) (string, error)
	Join(c *Connection) error
	Leave(c *Connection)
	SendMessage(ctx context.Context, c *Connection, msg models.ClientMessage) error
	Typing(c *Connection, msg models.ClientMessage)
	MarkRead(c *Connection, messageID string) error
}

// Connection is one client transport. The first frame must be an auth frame,
// after that the connection is bound to a single (user, conversation) pair.
type Connection struct {
	id             string
	ws             wsConnection
	hub            messageHub
	readTimeout    time.Duration
	heartbeat      time.Duration
	userID         string
	conversationID string
	authenticated  atomic.Bool
	joined         bool

	fromClient chan models.ClientMessage
	fromServer chan models.ServerMessage
	errorCh    chan error
	done       chan struct{}
	kick       chan string
	closeOnce  sync.Once
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	readTimeout time.Duration,
) *Connection {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Connection{
		id:          uuid.NewString(),
		ws:          ws,
		hub:         hub,
		readTimeout: readTimeout,
		fromClient:  make(chan models.ClientMessage),
		fromServer:  make(chan models.ServerMessage, outboxSize),
		errorCh:     make(chan error, 2),
		done:        make(chan struct{}),
		kick:        make(chan string, 1),
	}
}

func (c *Connection) ID() string { return c.id }

// UserID is empty until the auth frame was accepted.
func (c *Connection) UserID() string { return c.userID }

func (c *Connection) ConversationID() string { return c.conversationID }

func (c *Connection) Authenticated() bool { return c.authenticated.Load() }

// Send queues a frame without blocking. Frames for a slow or closed
// connection are dropped.
func (c *Connection) Send(msg models.ServerMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.fromServer <- msg:
		return true
	default:
		metrics.FramesTotal.WithLabelValues("dropped", string(msg.Type)).Inc()
		slog.Warn("outbox full, frame dropped", "user_id", c.userID, "type", msg.Type)
		return false
	}
}

// Kick closes the connection from the server side.
func (c *Connection) Kick(reason string) {
	select {
	case c.kick <- reason:
	default:
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		c.closeOnce.Do(func() { close(c.done) })
		if c.joined {
			c.hub.Leave(c)
		}
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	cancel()
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return err
		}
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%w: %v", models.ErrTransport, err)
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.fromClient:
			metrics.FramesTotal.WithLabelValues("in", msg.Type.Label()).Inc()
			if err := c.processClientMessage(ctx, msg); err != nil {
				return err
			}
		case msg := <-c.fromServer:
			if err := c.write(msg); err != nil {
				return err
			}
		case reason := <-c.kick:
			_ = c.write(models.ServerMessage{Type: models.ServerMessageTypeError, Error: reason})
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) write(msg models.ServerMessage) error {
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	metrics.FramesTotal.WithLabelValues("out", string(msg.Type)).Inc()
	return nil
}

func (c *Connection) processClientMessage(ctx context.Context, msg models.ClientMessage) error {
	if !c.Authenticated() {
		return c.authenticate(msg)
	}

	var err error
	switch msg.Type {
	case models.ClientMessageTypePing:
		return c.write(models.ServerMessage{Type: models.ServerMessageTypePong})
	case models.ClientMessageTypeSendMessage:
		err = c.hub.SendMessage(ctx, c, msg)
	case models.ClientMessageTypeTyping:
		c.hub.Typing(c, msg)
	case models.ClientMessageTypeMarkRead:
		err = c.hub.MarkRead(c, msg.MessageID)
	case models.ClientMessageTypeAuth:
		err = fmt.Errorf("%w: already authenticated", models.ErrInvalidRequest)
	default:
		slog.Warn("unknown frame dropped", "user_id", c.userID, "type", msg.Type)
		metrics.FramesTotal.WithLabelValues("dropped", msg.Type.Label()).Inc()
		return nil
	}

	if err != nil {
		// Domain errors are answered, the connection stays open.
		return c.write(models.ServerMessage{
			Type:           models.ServerMessageTypeError,
			ConversationID: c.conversationID,
			MessageID:      msg.MessageID,
			ClientID:       msg.ClientID,
			Error:          err.Error(),
		})
	}
	return nil
}

// authenticate handles the first frame. Any failure closes the connection.
func (c *Connection) authenticate(msg models.ClientMessage) error {
	if msg.Type != models.ClientMessageTypeAuth {
		_ = c.write(models.ServerMessage{Type: models.ServerMessageTypeError, Error: "first frame must be auth"})
		return models.ErrUnauthenticated
	}

	userID, err := c.hub.Authenticate(msg.Token, msg.UserID, msg.ConversationID)
	if err != nil {
		_ = c.write(models.ServerMessage{Type: models.ServerMessageTypeError, Error: err.Error()})
		return err
	}

	c.userID = userID
	c.conversationID = msg.ConversationID
	c.authenticated.Store(true)

	if err := c.hub.Join(c); err != nil {
		_ = c.write(models.ServerMessage{Type: models.ServerMessageTypeError, Error: err.Error()})
		return err
	}
	c.joined = true

	return c.write(models.ServerMessage{
		Type:              models.ServerMessageTypeAuthOK,
		UserID:            userID,
		ConversationID:    c.conversationID,
		HeartbeatInterval: c.heartbeat.Milliseconds(),
	})
}
