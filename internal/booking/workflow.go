package booking

import (
	"fmt"
	"slices"

	"beacon/internal/models"
)

// Auto-actions fired when a booking enters a state.
const (
	ActionNotifyProfessional       = "notify_professional"
	ActionRequestPayment           = "request_payment"
	ActionSendConfirmationToClient = "send_confirmation_to_client"
	ActionScheduleReminder         = "schedule_reminder"
	ActionNotifySessionStarted     = "notify_session_started"
	ActionRequestReview            = "request_review"
	ActionNotifyOtherParty         = "notify_other_party"
)

// State declares the rules of one booking status.
type State struct {
	// Next lists the statuses reachable from this one.
	Next []models.BookingStatus
	// Role is required to move a booking into this status.
	Role        models.Role
	AutoActions []string
}

var workflow = map[models.BookingStatus]State{
	models.BookingPending: {
		Next:        []models.BookingStatus{models.BookingAccepted, models.BookingCancelled},
		Role:        models.RoleClient,
		AutoActions: []string{ActionNotifyProfessional},
	},
	models.BookingAccepted: {
		Next:        []models.BookingStatus{models.BookingConfirmed, models.BookingCancelled},
		Role:        models.RoleProfessional,
		AutoActions: []string{ActionRequestPayment, ActionSendConfirmationToClient},
	},
	models.BookingConfirmed: {
		Next:        []models.BookingStatus{models.BookingInProgress, models.BookingCancelled},
		Role:        models.RoleBoth,
		AutoActions: []string{ActionScheduleReminder},
	},
	models.BookingInProgress: {
		Next:        []models.BookingStatus{models.BookingCompleted, models.BookingCancelled, models.BookingDisputed},
		Role:        models.RoleProfessional,
		AutoActions: []string{ActionNotifySessionStarted},
	},
	models.BookingCompleted: {
		Next:        []models.BookingStatus{models.BookingDisputed},
		Role:        models.RoleProfessional,
		AutoActions: []string{ActionRequestReview},
	},
	models.BookingCancelled: {
		Role:        models.RoleBoth,
		AutoActions: []string{ActionNotifyOtherParty},
	},
	models.BookingDisputed: {
		Next:        []models.BookingStatus{models.BookingCompleted, models.BookingCancelled},
		Role:        models.RoleBoth,
		AutoActions: []string{ActionNotifyOtherParty},
	},
}

// NextAllowed returns the statuses reachable from status.
func NextAllowed(status models.BookingStatus) []models.BookingStatus {
	return slices.Clone(workflow[status].Next)
}

// CanTransition checks a move from -> to for an actor playing role.
// The transition table is checked before the role.
func CanTransition(from, to models.BookingStatus, role models.Role) error {
	cur, ok := workflow[from]
	if !ok || !slices.Contains(cur.Next, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	required := workflow[to].Role
	if required != models.RoleBoth && required != role {
		return fmt.Errorf("%w: %s requires role %s, got %s", models.ErrForbidden, to, required, role)
	}
	return nil
}

// events builds the notifications of one auto-action.
func events(b models.Booking, action, actor string, entry models.StatusEntry) []models.NotificationEvent {
	data := map[string]any{"bookingId": b.ID, "status": string(b.Status)}
	service := b.Service
	if service == "" {
		service = "a session"
	}

	switch action {
	case ActionNotifyProfessional:
		return []models.NotificationEvent{{
			UserID:   b.ProfessionalID,
			Type:     "booking_request",
			Title:    "New booking request",
			Message:  fmt.Sprintf("%s requested %s", b.ClientID, service),
			Data:     data,
			Priority: models.PriorityHigh,
			Category: "booking",
			Actions: []models.Action{
				{ID: "accept", Label: "Accept", Kind: models.ActionKindButton, Style: "primary"},
				{ID: "decline", Label: "Decline", Kind: models.ActionKindButton, Style: "danger"},
			},
		}}
	case ActionRequestPayment:
		return []models.NotificationEvent{{
			UserID:   b.ClientID,
			Type:     "payment_request",
			Title:    "Payment required",
			Message:  fmt.Sprintf("Complete the payment to confirm %s", service),
			Data:     data,
			Priority: models.PriorityHigh,
			Category: "payment",
			Actions: []models.Action{
				{ID: "pay", Label: "Pay now", Kind: models.ActionKindButton, Style: "primary"},
			},
		}}
	case ActionSendConfirmationToClient:
		return []models.NotificationEvent{{
			UserID:   b.ClientID,
			Type:     "booking_confirmed",
			Title:    "Booking accepted",
			Message:  fmt.Sprintf("%s accepted your booking for %s", b.ProfessionalID, service),
			Data:     data,
			Priority: models.PriorityMedium,
			Category: "booking",
		}}
	case ActionScheduleReminder:
		var out []models.NotificationEvent
		for _, userID := range []string{b.ClientID, b.ProfessionalID} {
			out = append(out, models.NotificationEvent{
				UserID:   userID,
				Type:     "reminder",
				Title:    "Booking confirmed",
				Message:  fmt.Sprintf("%s is confirmed", service),
				Data:     data,
				Priority: models.PriorityMedium,
				Category: "booking",
			})
		}
		return out
	case ActionNotifySessionStarted:
		return []models.NotificationEvent{{
			UserID:   b.ClientID,
			Type:     "booking_update",
			Title:    "Session started",
			Message:  fmt.Sprintf("%s has started", service),
			Data:     data,
			Priority: models.PriorityMedium,
			Category: "booking",
		}}
	case ActionRequestReview:
		msg := fmt.Sprintf("%s is completed. How did it go?", service)
		if b.CompletionNotes != "" {
			msg = b.CompletionNotes
		}
		return []models.NotificationEvent{{
			UserID:   b.ClientID,
			Type:     "booking_update",
			Title:    "Session completed",
			Message:  msg,
			Data:     data,
			Priority: models.PriorityLow,
			Category: "booking",
		}}
	case ActionNotifyOtherParty:
		other := b.ClientID
		if actor == b.ClientID {
			other = b.ProfessionalID
		}
		msg := fmt.Sprintf("Booking for %s is now %s", service, b.Status)
		if reason := entry.Metadata["cancellationReason"]; reason != "" {
			msg += ": " + reason
		} else if note := entry.Metadata["message"]; note != "" {
			msg += ": " + note
		}
		return []models.NotificationEvent{{
			UserID:   other,
			Type:     "booking_update",
			Title:    "Booking " + string(b.Status),
			Message:  msg,
			Data:     data,
			Priority: models.PriorityHigh,
			Category: "booking",
		}}
	}
	return nil
}
