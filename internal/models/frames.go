package models

// ClientMessage represents a frame sent from the client to the server.
type ClientMessage struct {
	Type           ClientMessageType `json:"type"`
	UserID         string            `json:"userId,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	Token          string            `json:"token,omitempty"`
	SenderID       string            `json:"senderId,omitempty"`
	Content        string            `json:"content,omitempty"`
	MessageType    MessageType       `json:"messageType,omitempty"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	ClientID       string            `json:"clientId,omitempty"`
	UserName       string            `json:"userName,omitempty"`
	IsTyping       bool              `json:"isTyping,omitempty"`
	MessageID      string            `json:"messageId,omitempty"`
}

// ServerMessage represents a frame sent to the client.
type ServerMessage struct {
	Type              ServerMessageType `json:"type"`
	UserID            string            `json:"userId,omitempty"`
	ConversationID    string            `json:"conversationId,omitempty"`
	MessageID         string            `json:"messageId,omitempty"`
	ClientID          string            `json:"clientId,omitempty"`
	Message           *Message          `json:"message,omitempty"`
	Typing            *TypingIndicator  `json:"typing,omitempty"`
	Notification      *Notification     `json:"notification,omitempty"`
	Error             string            `json:"error,omitempty"`
	HeartbeatInterval int64             `json:"heartbeatInterval,omitempty"` // milliseconds, auth_ok only
}

type ClientMessageType string

const (
	ClientMessageTypeAuth        ClientMessageType = "auth"
	ClientMessageTypeSendMessage ClientMessageType = "send_message"
	ClientMessageTypeTyping      ClientMessageType = "typing"
	ClientMessageTypeMarkRead    ClientMessageType = "mark_read"
	ClientMessageTypePing        ClientMessageType = "ping"
)

// Label is the metrics label for the frame type. Anything outside the
// protocol collapses to "unknown" so clients cannot mint new series.
func (t ClientMessageType) Label() string {
	switch t {
	case ClientMessageTypeAuth, ClientMessageTypeSendMessage, ClientMessageTypeTyping,
		ClientMessageTypeMarkRead, ClientMessageTypePing:
		return string(t)
	}
	return "unknown"
}

type ServerMessageType string

const (
	ServerMessageTypeAuthOK       ServerMessageType = "auth_ok"
	ServerMessageTypeMessage      ServerMessageType = "message"
	ServerMessageTypeTyping       ServerMessageType = "typing"
	ServerMessageTypeReadReceipt  ServerMessageType = "read_receipt"
	ServerMessageTypeUserOnline   ServerMessageType = "user_online"
	ServerMessageTypeUserOffline  ServerMessageType = "user_offline"
	ServerMessageTypeNotification ServerMessageType = "notification"
	ServerMessageTypePong         ServerMessageType = "pong"
	ServerMessageTypeError        ServerMessageType = "error"
)

// Close codes of the chat transport.
const (
	CloseNormal = 1000
)
