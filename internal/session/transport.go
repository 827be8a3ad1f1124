package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"beacon/internal/models"

	"github.com/gorilla/websocket"
)

// CloseError is returned by Transport.ReadJSON when the peer closed the
// connection with a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: %d %s", e.Code, e.Reason)
}

// Normal reports whether the peer closed on purpose.
func (e *CloseError) Normal() bool {
	return e.Code == models.CloseNormal
}

type Transport interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	// WriteClose sends a close frame with the given code and reason.
	WriteClose(code int, reason string) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer dials real websocket connections.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", models.ErrTransport, url, err)
	}
	return &websocketTransport{conn: conn}, nil
}

type websocketTransport struct {
	conn *websocket.Conn
}

func (t *websocketTransport) ReadJSON(v any) error {
	err := t.conn.ReadJSON(v)
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return err
}

func (t *websocketTransport) WriteJSON(v any) error {
	return t.conn.WriteJSON(v)
}

func (t *websocketTransport) WriteClose(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (t *websocketTransport) Close() error {
	return t.conn.Close()
}

// Clock schedules the session timers. Tests swap in a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
