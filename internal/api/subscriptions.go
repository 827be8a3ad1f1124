package api

import (
	"fmt"
	"net/http"

	"beacon/internal/models"
	"beacon/internal/push"
)

type SubscriptionRequest struct {
	UserID       string                   `json:"userId"`
	UserIDs      []string                 `json:"userIds,omitempty"`
	Subscription models.Subscription      `json:"subscription"`
	Notification models.NotificationEvent `json:"notification"`
}

type SubscriptionResponse struct {
	Success      bool                 `json:"success"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
	Status       *push.Status         `json:"status,omitempty"`
	Stats        *push.Stats          `json:"stats,omitempty"`
	PublicKey    string               `json:"publicKey,omitempty"`
	Result       *push.Result         `json:"result,omitempty"`
	Bulk         *push.BulkResult     `json:"bulk,omitempty"`
}

// SubscriptionsHandler serves the push subscription lifecycle on
// /api/notifications/subscribe.
func (a *API) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	resp := SubscriptionResponse{Success: true}

	if r.Method == http.MethodGet {
		switch action {
		case "status":
			userID, err := actingUser(r, r.URL.Query().Get("userId"))
			if err != nil {
				writeError(w, err)
				return
			}
			st, err := a.bridge.Status(userID)
			if err != nil {
				writeError(w, err)
				return
			}
			resp.Status = &st
		case "stats":
			st, err := a.bridge.Stats()
			if err != nil {
				writeError(w, err)
				return
			}
			resp.Stats = &st
		case "vapid_key":
			resp.PublicKey = a.bridge.VAPIDKey()
		default:
			writeError(w, fmt.Errorf("%w: unknown action %q", models.ErrInvalidRequest, action))
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var req SubscriptionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var err error
	switch action {
	case "subscribe", "unsubscribe", "test":
		var userID string
		if userID, err = actingUser(r, req.UserID); err != nil {
			break
		}
		switch action {
		case "subscribe":
			var sub models.Subscription
			sub, err = a.bridge.Subscribe(userID, req.Subscription)
			resp.Subscription = &sub
		case "unsubscribe":
			err = a.bridge.Unsubscribe(userID, req.Subscription.Endpoint)
		case "test":
			var res push.Result
			res, err = a.bridge.Test(r.Context(), userID)
			resp.Result = &res
		}
	case "send":
		ev := req.Notification
		if req.UserID != "" {
			ev.UserID = req.UserID
		}
		var res push.Result
		res, err = a.bridge.Deliver(r.Context(), ev)
		resp.Result = &res
	case "send_bulk":
		if len(req.UserIDs) == 0 {
			err = fmt.Errorf("%w: userIds are required", models.ErrInvalidRequest)
			break
		}
		bulk := a.bridge.SendBulk(r.Context(), req.UserIDs, req.Notification)
		resp.Bulk = &bulk
	default:
		err = fmt.Errorf("%w: unknown action %q", models.ErrInvalidRequest, action)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
