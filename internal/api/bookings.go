package api

import (
	"errors"
	"fmt"
	"net/http"

	"beacon/internal/booking"
	"beacon/internal/models"
	"beacon/internal/push"
)

type BookingResponse struct {
	Success bool `json:"success"`
	booking.Result
}

func (a *API) CreateBookingHandler(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	clientID, err := actingUser(r, req.ClientID)
	if err != nil {
		writeError(w, err)
		return
	}
	req.ClientID = clientID

	res, err := a.bookings.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingResponse{Success: true, Result: res})
}

// GetBookingHandler serves GET /api/bookings?id= to either party.
func (a *API) GetBookingHandler(w http.ResponseWriter, r *http.Request) {
	b, err := a.bookings.Get(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if b.Party(currentUser(r)) == "" {
		writeError(w, fmt.Errorf("%w: booking %s", models.ErrNotFound, b.ID))
		return
	}
	writeJSON(w, http.StatusOK, BookingResponse{Success: true, Result: booking.Result{
		Booking:           b,
		Notifications:     []models.Notification{},
		NextAllowedStates: booking.NextAllowed(b.Status),
	}})
}

// UpdateBookingStatusHandler serves POST /api/bookings/status. Workflow rule
// violations are answered with 400.
func (a *API) UpdateBookingStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req booking.UpdateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID, err := actingUser(r, req.UserID)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	req.UserID = userID

	res, err := a.bookings.UpdateStatus(r.Context(), req)
	switch {
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrForbidden):
		writeErrorStatus(w, http.StatusBadRequest, err)
		return
	case err != nil:
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingResponse{Success: true, Result: res})
}

type PaymentEvent struct {
	UserID    string  `json:"userId"`
	BookingID string  `json:"bookingId,omitempty"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

type PaymentResponse struct {
	Success      bool                `json:"success"`
	Notification models.Notification `json:"notification"`
	Booking      *booking.Result     `json:"booking,omitempty"`
}

// PaymentEventHandler turns a successful payment into a payment_received
// notification. A payment for an accepted booking also confirms it on
// behalf of the client.
func (a *API) PaymentEventHandler(w http.ResponseWriter, r *http.Request) {
	var ev PaymentEvent
	if err := decode(r, &ev); err != nil {
		writeError(w, err)
		return
	}
	userID, err := actingUser(r, ev.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if ev.Amount <= 0 {
		writeError(w, fmt.Errorf("%w: amount must be positive", models.ErrInvalidRequest))
		return
	}

	resp := PaymentResponse{Success: true}
	data := map[string]any{"amount": ev.Amount, "currency": ev.Currency}

	if ev.BookingID != "" {
		b, err := a.bookings.Get(ev.BookingID)
		if err != nil {
			writeError(w, err)
			return
		}
		if b.ClientID != userID {
			writeError(w, fmt.Errorf("%w: only the client pays for booking %s", models.ErrForbidden, b.ID))
			return
		}
		data["bookingId"] = b.ID
		if b.Status == models.BookingAccepted {
			res, err := a.bookings.UpdateStatus(r.Context(), booking.UpdateRequest{
				BookingID: b.ID,
				Status:    models.BookingConfirmed,
				UserID:    userID,
				UserRole:  models.RoleClient,
				Message:   "payment received",
			})
			if err != nil {
				writeError(w, err)
				return
			}
			resp.Booking = &res
		}
	}

	var res push.Result
	res, err = a.bridge.Deliver(r.Context(), models.NotificationEvent{
		UserID:   userID,
		Type:     "payment_received",
		Title:    "Payment received",
		Message:  fmt.Sprintf("Your payment of %.2f %s was received", ev.Amount, ev.Currency),
		Data:     data,
		Priority: models.PriorityMedium,
		Category: "payment",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	resp.Notification = res.Notification
	writeJSON(w, http.StatusOK, resp)
}
