package storage

import (
	"encoding"
	"encoding/binary"

	"beacon/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

func seqKey(seq int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(seq))
	return key
}

type DBConversation struct {
	ID           string   `msgpack:"id"`
	Participants []string `msgpack:"participants"`
	LastSeq      int64    `msgpack:"lastSeq"`
	CreatedAt    int64    `msgpack:"createdAt"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

func (c *DBConversation) toModel() models.Conversation {
	return models.Conversation{
		ID:           c.ID,
		Participants: c.Participants,
		LastSeq:      c.LastSeq,
		CreatedAt:    c.CreatedAt,
	}
}

type DBMessage struct {
	ID             string         `msgpack:"id"`
	Seq            int64          `msgpack:"seq"`
	Timestamp      int64          `msgpack:"timestamp"`
	ConversationID string         `msgpack:"conversationId"`
	SenderID       string         `msgpack:"senderId"`
	Content        string         `msgpack:"content"`
	Type           string         `msgpack:"type"`
	Status         string         `msgpack:"status"`
	Attachments    []DBAttachment `msgpack:"attachments"`
}

type DBAttachment struct {
	Name     string `msgpack:"name"`
	URL      string `msgpack:"url"`
	Size     int64  `msgpack:"size"`
	MimeType string `msgpack:"mimeType"`
}

func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func newDBMessage(m models.Message) *DBMessage {
	dbMessage := &DBMessage{
		ID:             m.ID,
		Seq:            m.Seq,
		Timestamp:      m.Timestamp,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           string(m.Type),
		Status:         string(m.Status),
	}
	if len(m.Attachments) > 0 {
		dbMessage.Attachments = make([]DBAttachment, len(m.Attachments))
		for i, a := range m.Attachments {
			dbMessage.Attachments[i] = DBAttachment{
				Name:     a.Name,
				URL:      a.URL,
				Size:     a.Size,
				MimeType: a.MimeType,
			}
		}
	}
	return dbMessage
}

func (m *DBMessage) toModel() models.Message {
	msg := models.Message{
		ID:             m.ID,
		Seq:            m.Seq,
		Timestamp:      m.Timestamp,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           models.MessageType(m.Type),
		Status:         models.MessageStatus(m.Status),
	}
	if len(m.Attachments) > 0 {
		msg.Attachments = make([]models.Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			msg.Attachments[i] = models.Attachment{
				Name:     a.Name,
				URL:      a.URL,
				Size:     a.Size,
				MimeType: a.MimeType,
			}
		}
	}
	return msg
}

// DBMessageRef locates a message by id.
type DBMessageRef struct {
	MessageID      string `msgpack:"messageId"`
	ConversationID string `msgpack:"conversationId"`
	Seq            int64  `msgpack:"seq"`
}

func (r *DBMessageRef) Key() []byte {
	return []byte(r.MessageID)
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBNotification struct {
	ID           string         `msgpack:"id"`
	UserID       string         `msgpack:"userId"`
	Type         string         `msgpack:"type"`
	Title        string         `msgpack:"title"`
	Message      string         `msgpack:"message"`
	Data         map[string]any `msgpack:"data"`
	Priority     string         `msgpack:"priority"`
	IsRead       bool           `msgpack:"isRead"`
	IsActionable bool           `msgpack:"isActionable"`
	Actions      []DBAction     `msgpack:"actions"`
	Category     string         `msgpack:"category"`
	CreatedAt    int64          `msgpack:"createdAt"`
}

type DBAction struct {
	ID    string `msgpack:"id"`
	Label string `msgpack:"label"`
	Kind  string `msgpack:"kind"`
	URL   string `msgpack:"url"`
	Style string `msgpack:"style"`
}

func (n *DBNotification) Key() []byte {
	return []byte(n.ID)
}

func (n *DBNotification) MarshalBinary() (data []byte, err error) {
	type alias DBNotification
	return msgpack.Marshal((*alias)(n))
}

func (n *DBNotification) UnmarshalBinary(data []byte) error {
	type alias DBNotification
	return msgpack.Unmarshal(data, (*alias)(n))
}

func newDBNotification(n models.Notification) *DBNotification {
	dbn := &DBNotification{
		ID:           n.ID,
		UserID:       n.UserID,
		Type:         n.Type,
		Title:        n.Title,
		Message:      n.Message,
		Data:         n.Data,
		Priority:     string(n.Priority),
		IsRead:       n.IsRead,
		IsActionable: n.IsActionable,
		Category:     n.Category,
		CreatedAt:    n.CreatedAt,
	}
	for _, a := range n.Actions {
		dbn.Actions = append(dbn.Actions, DBAction{
			ID:    a.ID,
			Label: a.Label,
			Kind:  string(a.Kind),
			URL:   a.URL,
			Style: a.Style,
		})
	}
	return dbn
}

func (n *DBNotification) toModel() models.Notification {
	out := models.Notification{
		ID:           n.ID,
		UserID:       n.UserID,
		Type:         n.Type,
		Title:        n.Title,
		Message:      n.Message,
		Data:         n.Data,
		Priority:     models.Priority(n.Priority),
		IsRead:       n.IsRead,
		IsActionable: n.IsActionable,
		Category:     n.Category,
		CreatedAt:    n.CreatedAt,
	}
	for _, a := range n.Actions {
		out.Actions = append(out.Actions, models.Action{
			ID:    a.ID,
			Label: a.Label,
			Kind:  models.ActionKind(a.Kind),
			URL:   a.URL,
			Style: a.Style,
		})
	}
	return out
}

type DBSubscription struct {
	UserID    string `msgpack:"userId"`
	Endpoint  string `msgpack:"endpoint"`
	P256dh    string `msgpack:"p256dh"`
	Auth      string `msgpack:"auth"`
	CreatedAt int64  `msgpack:"createdAt"`
	IsActive  bool   `msgpack:"isActive"`
}

func (s *DBSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBSubscription) UnmarshalBinary(data []byte) error {
	type alias DBSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}

func (s *DBSubscription) toModel() models.Subscription {
	return models.Subscription{
		UserID:    s.UserID,
		Endpoint:  s.Endpoint,
		Keys:      models.PushKeys{P256dh: s.P256dh, Auth: s.Auth},
		CreatedAt: s.CreatedAt,
		IsActive:  s.IsActive,
	}
}

type DBBooking struct {
	ID                 string          `msgpack:"id"`
	ClientID           string          `msgpack:"clientId"`
	ProfessionalID     string          `msgpack:"professionalId"`
	Service            string          `msgpack:"service"`
	Status             string          `msgpack:"status"`
	History            []DBStatusEntry `msgpack:"history"`
	CancellationReason string          `msgpack:"cancellationReason"`
	CompletionNotes    string          `msgpack:"completionNotes"`
	CreatedAt          int64           `msgpack:"createdAt"`
	UpdatedAt          int64           `msgpack:"updatedAt"`
}

type DBStatusEntry struct {
	Status    string            `msgpack:"status"`
	Actor     string            `msgpack:"actor"`
	ActorRole string            `msgpack:"actorRole"`
	Timestamp int64             `msgpack:"timestamp"`
	Metadata  map[string]string `msgpack:"metadata"`
}

func (b *DBBooking) Key() []byte {
	return []byte(b.ID)
}

func (b *DBBooking) MarshalBinary() (data []byte, err error) {
	type alias DBBooking
	return msgpack.Marshal((*alias)(b))
}

func (b *DBBooking) UnmarshalBinary(data []byte) error {
	type alias DBBooking
	return msgpack.Unmarshal(data, (*alias)(b))
}

func newDBBooking(b models.Booking) *DBBooking {
	dbb := &DBBooking{
		ID:                 b.ID,
		ClientID:           b.ClientID,
		ProfessionalID:     b.ProfessionalID,
		Service:            b.Service,
		Status:             string(b.Status),
		CancellationReason: b.CancellationReason,
		CompletionNotes:    b.CompletionNotes,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
	for _, h := range b.History {
		dbb.History = append(dbb.History, DBStatusEntry{
			Status:    string(h.Status),
			Actor:     h.Actor,
			ActorRole: string(h.ActorRole),
			Timestamp: h.Timestamp,
			Metadata:  h.Metadata,
		})
	}
	return dbb
}

func (b *DBBooking) toModel() models.Booking {
	out := models.Booking{
		ID:                 b.ID,
		ClientID:           b.ClientID,
		ProfessionalID:     b.ProfessionalID,
		Service:            b.Service,
		Status:             models.BookingStatus(b.Status),
		CancellationReason: b.CancellationReason,
		CompletionNotes:    b.CompletionNotes,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
	for _, h := range b.History {
		out.History = append(out.History, models.StatusEntry{
			Status:    models.BookingStatus(h.Status),
			Actor:     h.Actor,
			ActorRole: models.Role(h.ActorRole),
			Timestamp: h.Timestamp,
			Metadata:  h.Metadata,
		})
	}
	return out
}
