// Package notify is the persisted, per-user notification feed.
package notify

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"beacon/internal/content"
	"beacon/internal/models"

	"github.com/google/uuid"
)

type Store interface {
	PutNotification(n models.Notification) error
	GetNotification(id string) (models.Notification, error)
	UpdateNotification(id string, fn func(n *models.Notification) error) (models.Notification, error)
	UpdateUserNotifications(userID string, fn func(n *models.Notification) bool) (int, error)
	ListNotifications(userID string) ([]models.Notification, error)
	DeleteNotification(id string) error
}

// Page is the result of List. UnreadCount is always derived from Notifications.
type Page struct {
	Notifications []models.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unreadCount"`
}

// ActionResult is returned by ExecuteAction.
type ActionResult struct {
	Notification models.Notification `json:"notification"`
	Action       models.Action       `json:"action"`
	Data         map[string]any      `json:"data,omitempty"`
}

type Feed struct {
	db    Store
	now   func() time.Time
	newID func() string
}

func NewFeed(db Store) *Feed {
	return &Feed{
		db:    db,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Create assigns id and createdAt and stores the notification unread.
// The caller's Actions and Data are never modified.
func (f *Feed) Create(n models.Notification) (models.Notification, error) {
	n.Actions = slices.Clone(n.Actions)
	n.Data = maps.Clone(n.Data)
	n.ID = f.newID()
	n.CreatedAt = f.now().UnixMilli()
	n.IsRead = false
	n.Title = content.PlainText(n.Title)
	n.Message = content.PlainText(n.Message)
	if n.Priority == "" {
		n.Priority = models.PriorityMedium
	}
	if !n.Priority.Valid() {
		return models.Notification{}, fmt.Errorf("%w: unknown priority %q", models.ErrInvalidRequest, n.Priority)
	}
	for i, a := range n.Actions {
		if a.ID == "" {
			return models.Notification{}, fmt.Errorf("%w: action without id", models.ErrInvalidRequest)
		}
		if a.Kind == "" {
			n.Actions[i].Kind = models.ActionKindButton
		}
		if a.Kind == models.ActionKindLink && a.URL == "" {
			return models.Notification{}, fmt.Errorf("%w: link action %s without url", models.ErrInvalidRequest, a.ID)
		}
	}
	if err := n.Validate(); err != nil {
		return models.Notification{}, err
	}

	if err := f.db.PutNotification(n); err != nil {
		return models.Notification{}, fmt.Errorf("failed to store notification: %w", err)
	}
	return n, nil
}

// MarkRead is idempotent. Notifications of other users are reported as not found.
func (f *Feed) MarkRead(userID, id string) (models.Notification, error) {
	return f.db.UpdateNotification(id, func(n *models.Notification) error {
		if n.UserID != userID {
			return fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
		}
		n.IsRead = true
		return nil
	})
}

// MarkAllRead returns how many notifications flipped to read.
func (f *Feed) MarkAllRead(userID string) (int, error) {
	return f.db.UpdateUserNotifications(userID, func(n *models.Notification) bool {
		if n.IsRead {
			return false
		}
		n.IsRead = true
		return true
	})
}

func (f *Feed) Delete(userID, id string) error {
	if _, err := f.owned(userID, id); err != nil {
		return err
	}
	return f.db.DeleteNotification(id)
}

func (f *Feed) List(userID string) (Page, error) {
	list, err := f.db.ListNotifications(userID)
	if err != nil {
		return Page{}, err
	}
	page := Page{Notifications: list}
	if page.Notifications == nil {
		page.Notifications = []models.Notification{}
	}
	for _, n := range page.Notifications {
		if !n.IsRead {
			page.UnreadCount++
		}
	}
	return page, nil
}

// ExecuteAction resolves a call-to-action and marks the notification read.
// data is merged over the notification payload for click routing.
func (f *Feed) ExecuteAction(userID, id, actionID string, data map[string]any) (ActionResult, error) {
	n, err := f.owned(userID, id)
	if err != nil {
		return ActionResult{}, err
	}
	action, ok := n.FindAction(actionID)
	if !ok {
		return ActionResult{}, fmt.Errorf("action %s on %s: %w", actionID, id, models.ErrActionNotFound)
	}

	n, err = f.MarkRead(userID, id)
	if err != nil {
		return ActionResult{}, err
	}

	merged := make(map[string]any, len(n.Data)+len(data))
	maps.Copy(merged, n.Data)
	maps.Copy(merged, data)

	return ActionResult{Notification: n, Action: action, Data: merged}, nil
}

func (f *Feed) owned(userID, id string) (models.Notification, error) {
	n, err := f.db.GetNotification(id)
	if err != nil {
		return models.Notification{}, err
	}
	if n.UserID != userID {
		return models.Notification{}, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	return n, nil
}
