package models

import "fmt"

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type ActionKind string

const (
	ActionKindButton ActionKind = "button"
	ActionKindLink   ActionKind = "link"
)

type Action struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  ActionKind `json:"kind"`
	URL   string     `json:"url,omitempty"`
	Style string     `json:"style,omitempty"`
}

// Notification is a persisted alert owned by a single user.
// IsRead only flips false -> true.
type Notification struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Data         map[string]any `json:"data,omitempty"`
	Priority     Priority       `json:"priority"`
	IsRead       bool           `json:"isRead"`
	IsActionable bool           `json:"isActionable"`
	Actions      []Action       `json:"actions,omitempty"`
	Category     string         `json:"category,omitempty"`
	CreatedAt    int64          `json:"createdAt"` // Unix milliseconds
}

func (n Notification) Validate() error {
	if n.UserID == "" {
		return fmt.Errorf("%w: notification without owner", ErrInvalidRequest)
	}
	if n.Type == "" {
		return fmt.Errorf("%w: notification without type", ErrInvalidRequest)
	}
	if n.IsActionable && len(n.Actions) == 0 {
		return fmt.Errorf("%w: actionable notification must carry at least one action", ErrInvalidRequest)
	}
	return nil
}

// FindAction returns the action with the given id.
func (n Notification) FindAction(id string) (Action, bool) {
	for _, a := range n.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// NotificationEvent is a notification-worthy domain event entering the push bridge.
type NotificationEvent struct {
	UserID   string         `json:"userId"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
	Priority Priority       `json:"priority,omitempty"`
	Category string         `json:"category,omitempty"`
	Actions  []Action       `json:"actions,omitempty"`
}

type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is a platform push endpoint registered by a user.
type Subscription struct {
	UserID    string   `json:"userId"`
	Endpoint  string   `json:"endpoint"`
	Keys      PushKeys `json:"keys"`
	CreatedAt int64    `json:"createdAt"`
	IsActive  bool     `json:"isActive"`
}
