package storage

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"beacon/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketConversations      = []byte("conversations")
	bucketMessages           = []byte("messages")
	bucketMessageIndex       = []byte("message_index")
	bucketNotifications      = []byte("notifications")
	bucketNotificationOwners = []byte("notification_owners")
	bucketSubscriptions      = []byte("subscriptions")
	bucketBookings           = []byte("bookings")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketConversations,
			bucketMessages,
			bucketMessageIndex,
			bucketNotifications,
			bucketNotificationOwners,
			bucketSubscriptions,
			bucketBookings,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertConversation saves conversation membership. LastSeq is never moved backwards.
func (s *BboltStorage) UpsertConversation(conv models.Conversation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		dbConv := &DBConversation{
			ID:           conv.ID,
			Participants: conv.Participants,
			LastSeq:      conv.LastSeq,
			CreatedAt:    conv.CreatedAt,
		}
		if existing := b.Get(dbConv.Key()); existing != nil {
			var prev DBConversation
			if err := prev.UnmarshalBinary(existing); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			if prev.LastSeq > dbConv.LastSeq {
				dbConv.LastSeq = prev.LastSeq
			}
			if dbConv.CreatedAt == 0 {
				dbConv.CreatedAt = prev.CreatedAt
			}
		}
		data, err := dbConv.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbConv.Key(), data)
	})
}

func (s *BboltStorage) GetConversation(id string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConversations).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
		}
		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(data); err != nil {
			return err
		}
		conv = dbConv.toModel()
		return nil
	})
	return conv, err
}

// ListConversations returns all conversations stored in the database.
func (s *BboltStorage) ListConversations() ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var dbConv DBConversation
			if err := dbConv.UnmarshalBinary(v); err != nil {
				return err
			}
			convs = append(convs, dbConv.toModel())
			return nil
		})
	})
	return convs, err
}

// AppendMessage saves a chat message, indexes it by id and advances the
// conversation LastSeq. Conversations without a record are created open.
func (s *BboltStorage) AppendMessage(message models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if message.ConversationID == "" {
			return errors.New("message missing conversationID")
		}
		if message.ID == "" {
			return errors.New("message missing id")
		}

		// 1. Save message
		mainMsgBucket := tx.Bucket(bucketMessages)
		convBucket, err := mainMsgBucket.CreateBucketIfNotExists([]byte(message.ConversationID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		dbMessage := newDBMessage(message)
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := convBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		// 2. Index by id
		ref := &DBMessageRef{
			MessageID:      message.ID,
			ConversationID: message.ConversationID,
			Seq:            message.Seq,
		}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		index := tx.Bucket(bucketMessageIndex)
		// Ids are unique across conversations.
		if index.Get(ref.Key()) != nil {
			return fmt.Errorf("%w: duplicate id %s", models.ErrInvalidMessage, message.ID)
		}
		if err := index.Put(ref.Key(), refData); err != nil {
			return fmt.Errorf("failed to index message: %w", err)
		}

		// 3. Update conversation LastSeq
		convs := tx.Bucket(bucketConversations)
		convKey := []byte(message.ConversationID)
		dbConv := DBConversation{ID: message.ConversationID, CreatedAt: message.Timestamp}
		if convData := convs.Get(convKey); convData != nil {
			if err := dbConv.UnmarshalBinary(convData); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
		}
		if message.Seq > dbConv.LastSeq {
			dbConv.LastSeq = message.Seq
		}
		newData, err := dbConv.MarshalBinary()
		if err != nil {
			return err
		}
		return convs.Put(convKey, newData)
	})
}

func (s *BboltStorage) GetMessage(id string) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbMsg, _, err := lookupMessage(tx, id)
		if err != nil {
			return err
		}
		msg = dbMsg.toModel()
		return nil
	})
	return msg, err
}

// UpdateMessageStatus advances the message status. Backward moves are ignored
// and reported as unchanged.
func (s *BboltStorage) UpdateMessageStatus(id string, status models.MessageStatus) (models.Message, bool, error) {
	var (
		msg     models.Message
		changed bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbMsg, convBucket, err := lookupMessage(tx, id)
		if err != nil {
			return err
		}
		next, ok := models.MessageStatus(dbMsg.Status).Advance(status)
		msg = dbMsg.toModel()
		if !ok {
			return nil
		}
		dbMsg.Status = string(next)
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return err
		}
		if err := convBucket.Put(dbMsg.Key(), data); err != nil {
			return err
		}
		msg.Status = next
		changed = true
		return nil
	})
	return msg, changed, err
}

func lookupMessage(tx *bbolt.Tx, id string) (*DBMessage, *bbolt.Bucket, error) {
	refData := tx.Bucket(bucketMessageIndex).Get([]byte(id))
	if refData == nil {
		return nil, nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(refData); err != nil {
		return nil, nil, err
	}
	convBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ConversationID))
	if convBucket == nil {
		return nil, nil, fmt.Errorf("conversation %s: %w", ref.ConversationID, models.ErrNotFound)
	}
	data := convBucket.Get(seqKey(ref.Seq))
	if data == nil {
		return nil, nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	var dbMsg DBMessage
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return nil, nil, err
	}
	return &dbMsg, convBucket, nil
}

// ListMessages returns conversation messages with from <= seq <= to in append order.
func (s *BboltStorage) ListMessages(conversationID string, from, to int64) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convBucket == nil {
			return nil // No messages for this conversation
		}

		c := convBucket.Cursor()
		maxKey := seqKey(to)
		for k, v := c.Seek(seqKey(from)); k != nil && bytes.Compare(k, maxKey) <= 0; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.toModel())
		}
		return nil
	})
	return messages, err
}

// ListMessagesBefore returns up to limit messages newest-first with
// seq < beforeSeq and timestamp < beforeTS. Zero bounds are ignored.
func (s *BboltStorage) ListMessagesBefore(conversationID string, beforeSeq, beforeTS int64, limit int) ([]models.Message, error) {
	messages := []models.Message{}
	if limit <= 0 {
		return messages, nil
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convBucket == nil {
			return nil
		}

		c := convBucket.Cursor()
		var k, v []byte
		if beforeSeq > 0 {
			if k, v = c.Seek(seqKey(beforeSeq)); k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		} else {
			k, v = c.Last()
		}

		for ; k != nil && len(messages) < limit; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if beforeTS > 0 && dbMsg.Timestamp >= beforeTS {
				continue
			}
			messages = append(messages, dbMsg.toModel())
		}
		return nil
	})
	return messages, err
}
