// Package booking implements the booking status workflow. Every transition
// appends to the booking history and fires the auto-actions of the new state.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"beacon/internal/content"
	"beacon/internal/metrics"
	"beacon/internal/models"
	"beacon/internal/push"

	"github.com/google/uuid"
)

type Store interface {
	UpsertBooking(b models.Booking) error
	GetBooking(id string) (models.Booking, error)
	UpdateBooking(id string, fn func(b *models.Booking) error) (models.Booking, error)
}

// Notifier delivers auto-action notifications.
type Notifier interface {
	Deliver(ctx context.Context, ev models.NotificationEvent) (push.Result, error)
}

type CreateRequest struct {
	ClientID       string `json:"clientId"`
	ProfessionalID string `json:"professionalId"`
	Service        string `json:"service"`
}

type UpdateRequest struct {
	BookingID          string               `json:"bookingId"`
	Status             models.BookingStatus `json:"status"`
	UserID             string               `json:"userId"`
	UserRole           models.Role          `json:"userRole"`
	Message            string               `json:"message,omitempty"`
	CancellationReason string               `json:"cancellationReason,omitempty"`
	CompletionNotes    string               `json:"completionNotes,omitempty"`
}

type Result struct {
	Booking           models.Booking         `json:"booking"`
	Notifications     []models.Notification  `json:"notifications"`
	NextAllowedStates []models.BookingStatus `json:"nextAllowedStates"`
}

type Service struct {
	db       Store
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

func NewService(db Store, notifier Notifier) *Service {
	return &Service{
		db:       db,
		notifier: notifier,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Create opens a pending booking on behalf of the client.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Result, error) {
	for _, id := range []string{req.ClientID, req.ProfessionalID} {
		if err := content.ValidateID(id); err != nil {
			return Result{}, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
		}
	}
	if req.ClientID == req.ProfessionalID {
		return Result{}, fmt.Errorf("%w: client and professional must differ", models.ErrInvalidRequest)
	}

	now := s.now().UnixMilli()
	entry := models.StatusEntry{
		Status:    models.BookingPending,
		Actor:     req.ClientID,
		ActorRole: models.RoleClient,
		Timestamp: now,
	}
	b := models.Booking{
		ID:             s.newID(),
		ClientID:       req.ClientID,
		ProfessionalID: req.ProfessionalID,
		Service:        content.PlainText(req.Service),
		Status:         models.BookingPending,
		History:        []models.StatusEntry{entry},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.UpsertBooking(b); err != nil {
		return Result{}, fmt.Errorf("failed to store booking: %w", err)
	}
	metrics.BookingTransitions.WithLabelValues(string(b.Status), "ok").Inc()

	return Result{
		Booking:           b,
		Notifications:     s.fire(ctx, b, req.ClientID, entry),
		NextAllowedStates: NextAllowed(b.Status),
	}, nil
}

func (s *Service) Get(id string) (models.Booking, error) {
	return s.db.GetBooking(id)
}

// UpdateStatus moves a booking to req.Status. On failure the stored booking
// is left unchanged.
func (s *Service) UpdateStatus(ctx context.Context, req UpdateRequest) (Result, error) {
	if req.BookingID == "" || req.UserID == "" || req.Status == "" {
		return Result{}, fmt.Errorf("%w: bookingId, status and userId are required", models.ErrInvalidRequest)
	}

	var entry models.StatusEntry
	b, err := s.db.UpdateBooking(req.BookingID, func(b *models.Booking) error {
		party := b.Party(req.UserID)
		if party == "" {
			return fmt.Errorf("%w: %s is not a party of booking %s", models.ErrForbidden, req.UserID, b.ID)
		}
		if req.UserRole != "" && req.UserRole != party {
			return fmt.Errorf("%w: %s acts as %s, not %s", models.ErrForbidden, req.UserID, party, req.UserRole)
		}
		if err := CanTransition(b.Status, req.Status, party); err != nil {
			return err
		}

		entry = models.StatusEntry{
			Status:    req.Status,
			Actor:     req.UserID,
			ActorRole: party,
			Timestamp: s.now().UnixMilli(),
			Metadata:  metadata(req),
		}
		b.Status = req.Status
		b.History = append(b.History, entry)
		b.UpdatedAt = entry.Timestamp
		if req.CancellationReason != "" {
			b.CancellationReason = content.PlainText(req.CancellationReason)
		}
		if req.CompletionNotes != "" {
			b.CompletionNotes = content.PlainText(req.CompletionNotes)
		}
		return nil
	})
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, models.ErrInvalidTransition):
			result = "invalid"
		case errors.Is(err, models.ErrForbidden):
			result = "forbidden"
		}
		metrics.BookingTransitions.WithLabelValues(string(req.Status), result).Inc()
		return Result{}, err
	}
	metrics.BookingTransitions.WithLabelValues(string(b.Status), "ok").Inc()

	return Result{
		Booking:           b,
		Notifications:     s.fire(ctx, b, req.UserID, entry),
		NextAllowedStates: NextAllowed(b.Status),
	}, nil
}

func metadata(req UpdateRequest) map[string]string {
	m := map[string]string{}
	if req.Message != "" {
		m["message"] = content.PlainText(req.Message)
	}
	if req.CancellationReason != "" {
		m["cancellationReason"] = content.PlainText(req.CancellationReason)
	}
	if req.CompletionNotes != "" {
		m["completionNotes"] = content.PlainText(req.CompletionNotes)
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// fire runs the auto-actions of the booking's current state. The transition is
// already committed, so delivery failures are only logged.
func (s *Service) fire(ctx context.Context, b models.Booking, actor string, entry models.StatusEntry) []models.Notification {
	out := []models.Notification{}
	if s.notifier == nil {
		return out
	}
	for _, action := range workflow[b.Status].AutoActions {
		for _, ev := range events(b, action, actor, entry) {
			res, err := s.notifier.Deliver(ctx, ev)
			if err != nil {
				slog.Warn("auto-action delivery failed", "booking_id", b.ID, "action", action, "user_id", ev.UserID, "error", err)
				continue
			}
			out = append(out, res.Notification)
		}
	}
	return out
}
