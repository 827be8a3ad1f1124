package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"beacon/internal/chat"
	"beacon/internal/content"
	"beacon/internal/metrics"
	"beacon/internal/models"
	"beacon/internal/push"
	"beacon/internal/ratelimit"
	"beacon/internal/registry"
	"beacon/internal/typing"
)

const previewLength = 120

type tokenResolver interface {
	GetUserID(token string) (string, error)
}

type notifier interface {
	Deliver(ctx context.Context, ev models.NotificationEvent) (push.Result, error)
}

// Hub ties live connections to the message store. The registry is consulted
// on every delivery, nothing caches handle lists.
type Hub struct {
	ctx      context.Context
	tokens   tokenResolver
	registry *registry.Registry
	store    *chat.Store
	typing   *typing.Coordinator
	notifier notifier
	limiter  ratelimit.Limiter

	wg sync.WaitGroup
}

type HubConfig struct {
	Tokens   tokenResolver
	Registry *registry.Registry
	Store    *chat.Store
	Typing   *typing.Coordinator
	Notifier notifier
	Limiter  ratelimit.Limiter
}

// NewHub wires the hub into the store's delivery path and the registry's
// presence events. ctx bounds background notification work.
func NewHub(ctx context.Context, config HubConfig) *Hub {
	h := &Hub{
		ctx:      ctx,
		tokens:   config.Tokens,
		registry: config.Registry,
		store:    config.Store,
		typing:   config.Typing,
		notifier: config.Notifier,
		limiter:  config.Limiter,
	}
	h.store.SetDeliver(h.deliver)
	h.registry.Subscribe(h.handlePresence)
	return h
}

// Wait blocks until background notification deliveries finished.
func (h *Hub) Wait() {
	h.wg.Wait()
}

func (h *Hub) Authenticate(token, userID, conversationID string) (string, error) {
	resolved, err := h.tokens.GetUserID(token)
	if err != nil {
		return "", err
	}
	if userID != "" && userID != resolved {
		return "", fmt.Errorf("%w: token does not belong to %s", models.ErrUnauthenticated, userID)
	}
	if err := content.ValidateID(conversationID); err != nil {
		return "", fmt.Errorf("%w: conversation: %v", models.ErrInvalidRequest, err)
	}
	if err := h.store.CheckMember(conversationID, resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

func (h *Hub) Join(c *Connection) error {
	if err := h.registry.Register(c.UserID(), c.ConversationID(), c); err != nil {
		return err
	}
	metrics.Connections.Set(float64(h.registry.Len()))
	slog.Info("connection joined", "user_id", c.UserID(), "conversation_id", c.ConversationID())
	return nil
}

func (h *Hub) Leave(c *Connection) {
	h.registry.Unregister(c)
	metrics.Connections.Set(float64(h.registry.Len()))
	if _, ok := h.registry.Primary(c.UserID(), c.ConversationID()); !ok {
		h.typing.ClearUser(c.UserID(), c.ConversationID())
	}
}

func (h *Hub) SendMessage(ctx context.Context, c *Connection, msg models.ClientMessage) error {
	if msg.SenderID != "" && msg.SenderID != c.UserID() {
		return fmt.Errorf("%w: cannot send as %s", models.ErrForbidden, msg.SenderID)
	}
	if msg.ConversationID != "" && msg.ConversationID != c.ConversationID() {
		return fmt.Errorf("%w: connection is bound to %s", models.ErrForbidden, c.ConversationID())
	}
	if h.limiter != nil && !h.limiter.Allow(ctx, c.UserID()) {
		metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		return models.ErrRateLimited
	}

	_, err := h.store.Append(models.Message{
		ConversationID: c.ConversationID(),
		SenderID:       c.UserID(),
		Content:        msg.Content,
		Type:           msg.MessageType,
		Attachments:    msg.Attachments,
		ClientID:       msg.ClientID,
	})
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return err
	}
	metrics.MessagesTotal.WithLabelValues("appended").Inc()
	return nil
}

func (h *Hub) Typing(c *Connection, msg models.ClientMessage) {
	h.typing.SetTyping(c.UserID(), content.PlainText(msg.UserName), c.ConversationID(), msg.IsTyping)
}

// MarkRead records a read receipt from the connection's user and broadcasts
// it when the status actually moved.
func (h *Hub) MarkRead(c *Connection, messageID string) error {
	msg, err := h.store.Get(messageID)
	if err != nil {
		return err
	}
	if msg.ConversationID != c.ConversationID() {
		return fmt.Errorf("%w: message %s", models.ErrNotFound, messageID)
	}
	if msg.SenderID == c.UserID() {
		return nil
	}

	_, changed, err := h.store.MarkRead(messageID)
	if err != nil || !changed {
		return err
	}
	h.broadcast(msg.ConversationID, "", models.ServerMessage{
		Type:           models.ServerMessageTypeReadReceipt,
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
		UserID:         c.UserID(),
	})
	return nil
}

// DisconnectUser closes every connection of the user and returns how many were open.
func (h *Hub) DisconnectUser(userID, reason string) int {
	handles := h.registry.FindByUser(userID)
	for _, handle := range handles {
		if k, ok := handle.(interface{ Kick(string) }); ok {
			k.Kick(reason)
		}
	}
	return len(handles)
}

// deliver runs inside the store's per-conversation append lock, so frames
// leave in append order.
func (h *Hub) deliver(msg models.Message) bool {
	frame := models.ServerMessage{
		Type:           models.ServerMessageTypeMessage,
		ConversationID: msg.ConversationID,
		Message:        &msg,
	}

	delivered := false
	for _, handle := range h.registry.FindByConversation(msg.ConversationID) {
		if handle.Send(frame) && handle.UserID() != msg.SenderID {
			delivered = true
		}
	}

	h.notifyOffline(msg)
	return delivered
}

// notifyOffline raises new_message notifications for participants without
// any live connection.
func (h *Hub) notifyOffline(msg models.Message) {
	if h.notifier == nil {
		return
	}
	conv, err := h.store.Conversation(msg.ConversationID)
	if err != nil {
		slog.Warn("failed to load conversation", "conversation_id", msg.ConversationID, "error", err)
		return
	}

	preview := content.PlainText(msg.Content)
	if r := []rune(preview); len(r) > previewLength {
		preview = string(r[:previewLength]) + "…"
	}
	if preview == "" {
		preview = fmt.Sprintf("Sent a %s", msg.Type)
	}

	for _, userID := range conv.Participants {
		if userID == msg.SenderID || h.registry.IsOnline(userID) {
			continue
		}
		ev := models.NotificationEvent{
			UserID:   userID,
			Type:     "new_message",
			Title:    "New message from " + msg.SenderID,
			Message:  preview,
			Priority: models.PriorityMedium,
			Category: "message",
			Data: map[string]any{
				"conversationId": msg.ConversationID,
				"messageId":      msg.ID,
				"senderId":       msg.SenderID,
			},
		}
		h.wg.Go(func() {
			if _, err := h.notifier.Deliver(h.ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("new_message notification failed", "user_id", ev.UserID, "error", err)
			}
		})
	}
}

func (h *Hub) handlePresence(ev registry.PresenceEvent) {
	t := models.ServerMessageTypeUserOffline
	if ev.Online {
		t = models.ServerMessageTypeUserOnline
	}
	h.broadcast(ev.ConversationID, ev.UserID, models.ServerMessage{
		Type:           t,
		ConversationID: ev.ConversationID,
		UserID:         ev.UserID,
	})
}

// broadcast sends to every handle of the conversation except those of skipUser.
func (h *Hub) broadcast(conversationID, skipUser string, msg models.ServerMessage) {
	for _, handle := range h.registry.FindByConversation(conversationID) {
		if skipUser != "" && handle.UserID() == skipUser {
			continue
		}
		handle.Send(msg)
	}
}
