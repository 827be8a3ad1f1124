package models

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
	MessageTypeAudio MessageType = "audio"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio:
		return true
	}
	return false
}

// MessageStatus only moves forward: sending -> sent -> delivered -> read.
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusSending:
		return 1
	case MessageStatusSent:
		return 2
	case MessageStatusDelivered:
		return 3
	case MessageStatusRead:
		return 4
	}
	return 0
}

// Advance returns the status after applying next and whether it changed.
// Skipping ahead is allowed, going back never is.
func (s MessageStatus) Advance(next MessageStatus) (MessageStatus, bool) {
	if next.rank() <= s.rank() {
		return s, false
	}
	return next, true
}

type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime"`
}

// Message represents a chat message.
type Message struct {
	ID             string        `json:"id"`
	Seq            int64         `json:"seq"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	HTML           string        `json:"html,omitempty"`
	Type           MessageType   `json:"type"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Timestamp      int64         `json:"timestamp"` // Unix milliseconds, monotonic within a conversation
	Status         MessageStatus `json:"status"`
	// ClientID echoes the client's optimistic id back to the sender. Never persisted.
	ClientID string `json:"clientId,omitempty"`
}

// TypingIndicator is ephemeral and never persisted.
type TypingIndicator struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}
