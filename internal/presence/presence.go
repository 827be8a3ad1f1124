// Package presence derives online/offline state from registry events.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"beacon/internal/models"
	"beacon/internal/registry"

	"github.com/c-pro/geche"
)

// PositionTTL is how long a reported position is considered fresh.
const PositionTTL = 5 * time.Minute

type userState struct {
	conversations map[string]struct{}
	lastSeen      time.Time
}

type Tracker struct {
	users     map[string]*userState
	positions geche.Geche[string, models.Position]
	mu        sync.RWMutex
}

func NewTracker(ctx context.Context) *Tracker {
	return &Tracker{
		users:     make(map[string]*userState),
		positions: geche.NewMapTTLCache[string, models.Position](ctx, PositionTTL, time.Minute),
	}
}

// HandleEvent is a registry.Listener.
func (t *Tracker) HandleEvent(ev registry.PresenceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.users[ev.UserID]
	if !ok {
		st = &userState{conversations: make(map[string]struct{})}
		t.users[ev.UserID] = st
	}
	if ev.Online {
		st.conversations[ev.ConversationID] = struct{}{}
	} else {
		delete(st.conversations, ev.ConversationID)
	}
	if ev.At.After(st.lastSeen) {
		st.lastSeen = ev.At
	}
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.users[userID]
	return ok && len(st.conversations) > 0
}

// Presence returns the user's presence. Unknown users are reported offline
// with a zero LastSeen.
func (t *Tracker) Presence(userID string) models.Presence {
	t.mu.RLock()
	p := models.Presence{UserID: userID}
	if st, ok := t.users[userID]; ok {
		p.Online = len(st.conversations) > 0
		p.LastSeen = st.lastSeen.Unix()
	}
	t.mu.RUnlock()

	if pos, err := t.positions.Get(userID); err == nil {
		p.Position = &pos
	}
	return p
}

// OnlineIn lists the users currently online in a conversation.
func (t *Tracker) OnlineIn(conversationID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for userID, st := range t.users {
		if _, ok := st.conversations[conversationID]; ok {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}

// UpdatePosition stores a client-reported position for PositionTTL.
func (t *Tracker) UpdatePosition(userID string, pos models.Position) {
	t.positions.Set(userID, pos)
}

func (t *Tracker) LastPosition(userID string) (models.Position, bool) {
	pos, err := t.positions.Get(userID)
	if err != nil {
		return models.Position{}, false
	}
	return pos, true
}
