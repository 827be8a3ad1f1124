// Package registry tracks live transport connections per user and conversation.
// It is the single source of truth for who is reachable right now.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"beacon/internal/models"
)

// Handle is one live, authenticated transport.
type Handle interface {
	ID() string
	UserID() string
	Authenticated() bool
	// Send queues a frame. It must not block and reports whether the frame was accepted.
	Send(msg models.ServerMessage) bool
}

// Record describes a registered handle.
type Record struct {
	UserID         string
	ConversationID string
	Handle         Handle
	ConnectedAt    time.Time
}

// PresenceEvent is emitted when a user's first handle joins a conversation
// (Online) or its last handle leaves it.
type PresenceEvent struct {
	UserID         string
	ConversationID string
	Online         bool
	At             time.Time
}

type Listener func(PresenceEvent)

type Registry struct {
	byHandle map[string]*Record
	byUser   map[string]map[string]*Record
	byConv   map[string]map[string]*Record

	listeners []Listener
	now       func() time.Time

	// changeMu serializes Register and Unregister together with their
	// listener calls, so listeners see events in registry order.
	changeMu sync.Mutex
	mu       sync.RWMutex
}

func New() *Registry {
	return &Registry{
		byHandle: make(map[string]*Record),
		byUser:   make(map[string]map[string]*Record),
		byConv:   make(map[string]map[string]*Record),
		now:      time.Now,
	}
}

// Subscribe adds a presence listener. Listeners run synchronously, in the
// order the registry changed. They may read the registry but must not call
// Register or Unregister.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Register adds an authenticated handle for userID in conversationID.
func (r *Registry) Register(userID, conversationID string, h Handle) error {
	if h == nil || !h.Authenticated() {
		return models.ErrUnauthenticated
	}
	if h.UserID() != userID {
		return fmt.Errorf("%w: handle belongs to %s", models.ErrUnauthenticated, h.UserID())
	}

	r.changeMu.Lock()
	defer r.changeMu.Unlock()

	r.mu.Lock()
	if _, ok := r.byHandle[h.ID()]; ok {
		r.mu.Unlock()
		return nil
	}

	rec := &Record{
		UserID:         userID,
		ConversationID: conversationID,
		Handle:         h,
		ConnectedAt:    r.now(),
	}
	first := !r.presentLocked(userID, conversationID)

	r.byHandle[h.ID()] = rec
	add(r.byUser, userID, rec)
	if conversationID != "" {
		add(r.byConv, conversationID, rec)
	}
	listeners := r.listeners
	r.mu.Unlock()

	if first {
		notify(listeners, PresenceEvent{UserID: userID, ConversationID: conversationID, Online: true, At: rec.ConnectedAt})
	}
	return nil
}

// Unregister removes the handle. Unknown or already removed handles are a no-op.
func (r *Registry) Unregister(h Handle) {
	if h == nil {
		return
	}

	r.changeMu.Lock()
	defer r.changeMu.Unlock()

	r.mu.Lock()
	rec, ok := r.byHandle[h.ID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byHandle, h.ID())
	remove(r.byUser, rec.UserID, h.ID())
	if rec.ConversationID != "" {
		remove(r.byConv, rec.ConversationID, h.ID())
	}
	last := !r.presentLocked(rec.UserID, rec.ConversationID)
	listeners := r.listeners
	r.mu.Unlock()

	if last {
		notify(listeners, PresenceEvent{UserID: rec.UserID, ConversationID: rec.ConversationID, Online: false, At: r.now()})
	}
}

func (r *Registry) presentLocked(userID, conversationID string) bool {
	for _, rec := range r.byUser[userID] {
		if rec.ConversationID == conversationID {
			return true
		}
	}
	return false
}

// FindByUser returns every live handle of the user, oldest first.
func (r *Registry) FindByUser(userID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return handles(r.byUser[userID])
}

// FindByConversation returns every live handle joined to the conversation, oldest first.
func (r *Registry) FindByConversation(conversationID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return handles(r.byConv[conversationID])
}

// Primary returns the authoritative handle for the (user, conversation) pair:
// the oldest one still registered.
func (r *Registry) Primary(userID, conversationID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Record
	for _, rec := range r.byUser[userID] {
		if rec.ConversationID != conversationID {
			continue
		}
		if best == nil || rec.ConnectedAt.Before(best.ConnectedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Handle, true
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}

// Records returns a snapshot of all registrations.
func (r *Registry) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.byHandle))
	for _, rec := range r.byHandle {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

func add(index map[string]map[string]*Record, key string, rec *Record) {
	m, ok := index[key]
	if !ok {
		m = make(map[string]*Record)
		index[key] = m
	}
	m[rec.Handle.ID()] = rec
}

func remove(index map[string]map[string]*Record, key, handleID string) {
	m, ok := index[key]
	if !ok {
		return
	}
	delete(m, handleID)
	if len(m) == 0 {
		delete(index, key)
	}
}

func handles(m map[string]*Record) []Handle {
	recs := make([]*Record, 0, len(m))
	for _, rec := range m {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ConnectedAt.Equal(recs[j].ConnectedAt) {
			return recs[i].Handle.ID() < recs[j].Handle.ID()
		}
		return recs[i].ConnectedAt.Before(recs[j].ConnectedAt)
	})
	out := make([]Handle, len(recs))
	for i, rec := range recs {
		out[i] = rec.Handle
	}
	return out
}

func notify(listeners []Listener, ev PresenceEvent) {
	for _, l := range listeners {
		l(ev)
	}
}
