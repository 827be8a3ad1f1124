package models

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrActionNotFound     = errors.New("action not found")
	ErrNotParticipant     = errors.New("user is not a participant of the conversation")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrRateLimited        = errors.New("rate limited")
	ErrNotStreaming       = errors.New("session is not streaming")
	ErrTransport          = errors.New("transport error")
	ErrDeliveryBestEffort = errors.New("best-effort delivery failed")
)

// Presence represents the online status of a user.
type Presence struct {
	UserID   string    `json:"userId"`
	Online   bool      `json:"online"`
	LastSeen int64     `json:"lastSeen"` // Unix timestamp (seconds)
	Position *Position `json:"position,omitempty"`
}

// Position is a coarse location reported by a client and kept for a short time.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Conversation binds an ordered sequence of messages to a set of participants.
// A conversation without participants is open to every authenticated user.
type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	LastSeq      int64    `json:"lastSeq"`
	CreatedAt    int64    `json:"createdAt"`
}

// HasParticipant reports whether userID may join the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	if len(c.Participants) == 0 {
		return true
	}
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type APIResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
