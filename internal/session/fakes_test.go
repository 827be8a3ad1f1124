package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"beacon/internal/models"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers in deadline order,
// including timers armed by the callbacks themselves.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(c.now) {
				continue
			}
			if due == nil || t.at.Before(due.at) {
				due = t
			}
		}
		if due == nil {
			c.mu.Unlock()
			return
		}
		due.fired = true
		c.mu.Unlock()
		due.f()
	}
}

// Active returns the number of armed timers.
func (c *fakeClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type readResult struct {
	frame models.ServerMessage
	err   error
}

type fakeTransport struct {
	in     chan readResult
	out    chan models.ClientMessage
	closed chan struct{}
	once   sync.Once

	mu         sync.Mutex
	closeCodes []int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan readResult, 10),
		out:    make(chan models.ClientMessage, 100),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadJSON(v any) error {
	select {
	case r := <-t.in:
		if r.err != nil {
			return r.err
		}
		*v.(*models.ServerMessage) = r.frame
		return nil
	case <-t.closed:
		return errors.New("use of closed connection")
	}
}

func (t *fakeTransport) WriteJSON(v any) error {
	select {
	case <-t.closed:
		return errors.New("use of closed connection")
	default:
	}
	t.out <- v.(models.ClientMessage)
	return nil
}

func (t *fakeTransport) WriteClose(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCodes = append(t.closeCodes, code)
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) CloseCodes() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.closeCodes)
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// push queues a frame from the server.
func (t *fakeTransport) push(frame models.ServerMessage) {
	t.in <- readResult{frame: frame}
}

func (t *fakeTransport) drop(err error) {
	t.in <- readResult{err: err}
}

// next returns the next frame written by the client.
func (t *fakeTransport) next(tb testing.TB) models.ClientMessage {
	tb.Helper()
	select {
	case msg := <-t.out:
		return msg
	case <-time.After(time.Second):
		tb.Fatal("no frame written")
	}
	return models.ClientMessage{}
}

func (t *fakeTransport) quiet(tb testing.TB) {
	tb.Helper()
	select {
	case msg := <-t.out:
		tb.Fatalf("unexpected frame %+v", msg)
	case <-time.After(30 * time.Millisecond):
	}
}

type fakeDialer struct {
	mu     sync.Mutex
	fail   bool
	dials  int
	urls   []string
	dialed chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeTransport, 10)}
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	if d.fail {
		return nil, models.ErrTransport
	}
	t := newFakeTransport()
	d.dialed <- t
	return t, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) SetFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) transport(tb testing.TB) *fakeTransport {
	tb.Helper()
	select {
	case t := <-d.dialed:
		return t
	case <-time.After(time.Second):
		tb.Fatal("no dial")
	}
	return nil
}
