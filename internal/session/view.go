package session

import (
	"slices"
	"sync"

	"beacon/internal/models"
)

// MessageView is the client's copy of a conversation. Server-confirmed
// messages and optimistic ones are kept apart so a local "sending" status
// never ends up in history.
type MessageView struct {
	mu        sync.RWMutex
	confirmed []models.Message
	pending   map[string]models.Message
	order     []string
}

func NewMessageView() *MessageView {
	return &MessageView{pending: make(map[string]models.Message)}
}

func (v *MessageView) addPending(msg models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending[msg.ClientID] = msg
	v.order = append(v.order, msg.ClientID)
}

func (v *MessageView) dropPending(clientID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dropPendingLocked(clientID)
}

func (v *MessageView) dropPendingLocked(clientID string) bool {
	if _, ok := v.pending[clientID]; !ok {
		return false
	}
	delete(v.pending, clientID)
	v.order = slices.DeleteFunc(v.order, func(id string) bool { return id == clientID })
	return true
}

// confirm records a message received from the server and reports whether it
// was new. A redelivered message only advances the status.
func (v *MessageView) confirm(msg models.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if msg.ClientID != "" {
		v.dropPendingLocked(msg.ClientID)
	}

	if i := slices.IndexFunc(v.confirmed, func(m models.Message) bool { return m.ID == msg.ID }); i >= 0 {
		v.confirmed[i].Status, _ = v.confirmed[i].Status.Advance(msg.Status)
		return false
	}

	i, _ := slices.BinarySearchFunc(v.confirmed, msg.Seq, func(m models.Message, seq int64) int {
		switch {
		case m.Seq < seq:
			return -1
		case m.Seq > seq:
			return 1
		}
		return 0
	})
	v.confirmed = slices.Insert(v.confirmed, i, msg)
	return true
}

func (v *MessageView) advance(messageID string, status models.MessageStatus) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.confirmed {
		if v.confirmed[i].ID == messageID {
			var changed bool
			v.confirmed[i].Status, changed = v.confirmed[i].Status.Advance(status)
			return changed
		}
	}
	return false
}

// Messages returns confirmed messages in sequence order.
func (v *MessageView) Messages() []models.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.confirmed)
}

// Pending returns messages sent by this client that the server has not echoed yet.
func (v *MessageView) Pending() []models.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]models.Message, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.pending[id])
	}
	return out
}
