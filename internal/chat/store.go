// Package chat is the ordered, append-only message store. Every conversation
// has a single append path so live subscribers see messages in append order.
package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"beacon/internal/content"
	"beacon/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultMaxRecords   = 100
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Persister is the durable side of the store.
type Persister interface {
	UpsertConversation(conv models.Conversation) error
	GetConversation(id string) (models.Conversation, error)
	AppendMessage(message models.Message) error
	GetMessage(id string) (models.Message, error)
	UpdateMessageStatus(id string, status models.MessageStatus) (models.Message, bool, error)
	ListMessagesBefore(conversationID string, beforeSeq, beforeTS int64, limit int) ([]models.Message, error)
}

// DeliverFunc fans a freshly appended message out to live subscribers. It runs
// while the conversation is locked and must not append or change statuses.
// It reports whether at least one recipient other than the sender got it.
type DeliverFunc func(msg models.Message) bool

type Config struct {
	MaxRecords int
	Deliver    DeliverFunc
}

type Store struct {
	db         Persister
	chats      map[string]*Chat
	maxRecords int
	deliver    DeliverFunc
	now        func() time.Time
	newID      func() string

	mu sync.Mutex
}

func NewStore(db Persister, config Config) *Store {
	if config.MaxRecords <= 0 {
		config.MaxRecords = DefaultMaxRecords
	}
	return &Store{
		db:         db,
		chats:      make(map[string]*Chat),
		maxRecords: config.MaxRecords,
		deliver:    config.Deliver,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// SetDeliver installs the fan-out callback. Must be called before the first Append.
func (s *Store) SetDeliver(fn DeliverFunc) {
	s.deliver = fn
}

// chat returns the in-memory view of a conversation, warming the ring from
// storage on first touch.
func (s *Store) chat(conversationID string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.chats[conversationID]; ok {
		return c, nil
	}

	c := newChat(conversationID, s.maxRecords)
	conv, err := s.db.GetConversation(conversationID)
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		recent, err := s.db.ListMessagesBefore(conversationID, 0, 0, s.maxRecords)
		if err != nil {
			return nil, fmt.Errorf("failed to warm conversation %s: %w", conversationID, err)
		}
		for i := len(recent) - 1; i >= 0; i-- {
			c.push(recent[i])
		}
		if conv.LastSeq > c.LastSeq {
			c.LastSeq = conv.LastSeq
		}
	}
	s.chats[conversationID] = c
	return c, nil
}

// CreateConversation stores the participant set of a conversation.
func (s *Store) CreateConversation(id string, participants []string) (models.Conversation, error) {
	if err := content.ValidateID(id); err != nil {
		return models.Conversation{}, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	for _, p := range participants {
		if err := content.ValidateID(p); err != nil {
			return models.Conversation{}, fmt.Errorf("%w: participant: %v", models.ErrInvalidRequest, err)
		}
	}
	conv := models.Conversation{
		ID:           id,
		Participants: participants,
		CreatedAt:    s.now().UnixMilli(),
	}
	if err := s.db.UpsertConversation(conv); err != nil {
		return models.Conversation{}, err
	}
	return s.db.GetConversation(id)
}

// Conversation returns the stored conversation, or an open one when no
// membership was recorded.
func (s *Store) Conversation(id string) (models.Conversation, error) {
	conv, err := s.db.GetConversation(id)
	if errors.Is(err, models.ErrNotFound) {
		return models.Conversation{ID: id}, nil
	}
	return conv, err
}

// CheckMember returns ErrNotParticipant when userID may not join conversationID.
func (s *Store) CheckMember(conversationID, userID string) error {
	conv, err := s.Conversation(conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return fmt.Errorf("%w: %s in %s", models.ErrNotParticipant, userID, conversationID)
	}
	return nil
}

// Append makes msg durable with status sent and delivers it to live
// subscribers. Seq and timestamp are always server-assigned; the id is
// assigned when absent.
func (s *Store) Append(msg models.Message) (models.Message, error) {
	if msg.ConversationID == "" || msg.SenderID == "" {
		return models.Message{}, fmt.Errorf("%w: conversation and sender are required", models.ErrInvalidMessage)
	}
	if msg.Type == "" {
		msg.Type = models.MessageTypeText
	}
	if err := content.ValidateMessage(msg.Type, msg.Content, msg.Attachments); err != nil {
		return models.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.Content != "" {
		html, err := content.RenderMarkdown(msg.Content)
		if err != nil {
			slog.Warn("markdown render failed", "conversation_id", msg.ConversationID, "error", err)
		}
		msg.HTML = html
	}

	c, err := s.chat(msg.ConversationID)
	if err != nil {
		return models.Message{}, err
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	if _, err := s.db.GetMessage(msg.ID); err == nil {
		return models.Message{}, fmt.Errorf("%w: duplicate id %s", models.ErrInvalidMessage, msg.ID)
	}

	msg.Seq = c.LastSeq + 1
	msg.Timestamp = s.now().UnixMilli()
	if msg.Timestamp <= c.LastTimestamp {
		msg.Timestamp = c.LastTimestamp + 1
	}
	msg.Status = models.MessageStatusSent

	if err := s.db.AppendMessage(msg); errors.Is(err, models.ErrInvalidMessage) {
		return models.Message{}, err
	} else if err != nil {
		return models.Message{}, fmt.Errorf("failed to persist message: %w", err)
	}
	c.push(msg)

	if s.deliver == nil || !s.deliver(msg) {
		return msg, nil
	}

	updated, changed, err := s.db.UpdateMessageStatus(msg.ID, models.MessageStatusDelivered)
	if err != nil {
		slog.Warn("failed to mark message delivered", "message_id", msg.ID, "error", err)
		return msg, nil
	}
	if changed {
		msg.Status = updated.Status
		c.Records[c.at(msg.Seq)].Status = updated.Status
	}
	return msg, nil
}

// MarkDelivered advances the message to delivered. Going backwards is a no-op.
func (s *Store) MarkDelivered(messageID string) (models.Message, bool, error) {
	return s.advance(messageID, models.MessageStatusDelivered)
}

// MarkRead advances the message to read, skipping delivered if needed.
func (s *Store) MarkRead(messageID string) (models.Message, bool, error) {
	return s.advance(messageID, models.MessageStatusRead)
}

func (s *Store) advance(messageID string, status models.MessageStatus) (models.Message, bool, error) {
	msg, changed, err := s.db.UpdateMessageStatus(messageID, status)
	if err != nil {
		return models.Message{}, false, err
	}
	if changed {
		s.mu.Lock()
		c, ok := s.chats[msg.ConversationID]
		s.mu.Unlock()
		if ok {
			c.setStatus(msg.Seq, msg.Status)
		}
	}
	return msg, changed, nil
}

func (s *Store) Get(messageID string) (models.Message, error) {
	return s.db.GetMessage(messageID)
}

// History returns a newest-first page. before is an exclusive cursor: either
// a message id of this conversation or a Unix millisecond timestamp.
func (s *Store) History(conversationID string, limit int, before string) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	beforeSeq, beforeTS, err := s.parseCursor(conversationID, before)
	if err != nil {
		return nil, err
	}

	c, err := s.chat(conversationID)
	if err != nil {
		return nil, err
	}
	if msgs, complete := c.before(beforeSeq, beforeTS, limit); complete {
		return msgs, nil
	}

	return s.db.ListMessagesBefore(conversationID, beforeSeq, beforeTS, limit)
}

func (s *Store) parseCursor(conversationID, before string) (seq, ts int64, err error) {
	if before == "" {
		return 0, 0, nil
	}
	if msg, err := s.db.GetMessage(before); err == nil {
		if msg.ConversationID != conversationID {
			return 0, 0, fmt.Errorf("%w: cursor belongs to another conversation", models.ErrInvalidRequest)
		}
		return msg.Seq, 0, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return 0, 0, err
	}
	ts, err = strconv.ParseInt(before, 10, 64)
	if err != nil || ts <= 0 {
		return 0, 0, fmt.Errorf("%w: cursor %q is neither a message id nor a timestamp", models.ErrInvalidRequest, before)
	}
	return 0, ts, nil
}
