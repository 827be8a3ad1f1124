// Package typing broadcasts ephemeral typing indicators. Nothing here is persisted.
package typing

import (
	"context"
	"sort"
	"sync"
	"time"

	"beacon/internal/models"
	"beacon/internal/registry"

	"github.com/c-pro/geche"
)

const (
	// ClientExpiry is how long after the last keystroke a client sends isTyping=false.
	ClientExpiry = 3 * time.Second
	// DefaultTTL bounds how long a receiver shows an indicator without a refresh.
	DefaultTTL = 5 * time.Second
)

// View keeps the typing indicators a receiver currently shows. Entries expire
// after the TTL even if the "stopped typing" frame never arrives.
type View struct {
	live  geche.Geche[string, models.TypingIndicator]
	convs map[string]map[string]struct{}
	mu    sync.Mutex
}

func NewView(ctx context.Context, ttl time.Duration) *View {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &View{
		live:  geche.NewMapTTLCache[string, models.TypingIndicator](ctx, ttl, ttl),
		convs: make(map[string]map[string]struct{}),
	}
}

func key(conversationID, userID string) string {
	return conversationID + "\x00" + userID
}

// Apply records an indicator and reports whether the visible state changed.
func (v *View) Apply(ind models.TypingIndicator) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	k := key(ind.ConversationID, ind.UserID)
	_, err := v.live.Get(k)
	wasTyping := err == nil

	if !ind.IsTyping {
		_ = v.live.Del(k)
		if users, ok := v.convs[ind.ConversationID]; ok {
			delete(users, ind.UserID)
			if len(users) == 0 {
				delete(v.convs, ind.ConversationID)
			}
		}
		return wasTyping
	}

	v.live.Set(k, ind)
	users, ok := v.convs[ind.ConversationID]
	if !ok {
		users = make(map[string]struct{})
		v.convs[ind.ConversationID] = users
	}
	users[ind.UserID] = struct{}{}
	return !wasTyping
}

// Typing returns the unexpired indicators of a conversation ordered by user id.
func (v *View) Typing(conversationID string) []models.TypingIndicator {
	v.mu.Lock()
	defer v.mu.Unlock()

	users := v.convs[conversationID]
	out := make([]models.TypingIndicator, 0, len(users))
	for userID := range users {
		ind, err := v.live.Get(key(conversationID, userID))
		if err != nil {
			delete(users, userID)
			continue
		}
		out = append(out, ind)
	}
	if len(users) == 0 {
		delete(v.convs, conversationID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (v *View) IsTyping(conversationID, userID string) bool {
	_, err := v.live.Get(key(conversationID, userID))
	return err == nil
}

type handleFinder interface {
	FindByConversation(conversationID string) []registry.Handle
}

// Coordinator fans typing signals out to the other handles of a conversation.
type Coordinator struct {
	handles handleFinder
	view    *View
}

func NewCoordinator(handles handleFinder, view *View) *Coordinator {
	return &Coordinator{handles: handles, view: view}
}

// SetTyping broadcasts the indicator to every handle of the conversation
// except the sender's own. It returns the number of handles reached.
func (c *Coordinator) SetTyping(userID, userName, conversationID string, isTyping bool) int {
	ind := models.TypingIndicator{
		ConversationID: conversationID,
		UserID:         userID,
		UserName:       userName,
		IsTyping:       isTyping,
	}
	c.view.Apply(ind)
	return c.broadcast(ind)
}

// ClearUser sends isTyping=false for a user that left while typing, so
// receivers do not keep a stranded indicator.
func (c *Coordinator) ClearUser(userID, conversationID string) {
	if !c.view.IsTyping(conversationID, userID) {
		return
	}
	ind := models.TypingIndicator{ConversationID: conversationID, UserID: userID}
	c.view.Apply(ind)
	c.broadcast(ind)
}

func (c *Coordinator) Typing(conversationID string) []models.TypingIndicator {
	return c.view.Typing(conversationID)
}

func (c *Coordinator) broadcast(ind models.TypingIndicator) int {
	msg := models.ServerMessage{
		Type:           models.ServerMessageTypeTyping,
		ConversationID: ind.ConversationID,
		UserID:         ind.UserID,
		Typing:         &ind,
	}
	sent := 0
	for _, h := range c.handles.FindByConversation(ind.ConversationID) {
		if h.UserID() == ind.UserID {
			continue
		}
		if h.Send(msg) {
			sent++
		}
	}
	return sent
}
