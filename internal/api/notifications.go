package api

import (
	"fmt"
	"net/http"

	"beacon/internal/models"
	"beacon/internal/notify"
)

type NotificationsResponse struct {
	Success bool `json:"success"`
	notify.Page
}

type NotificationRequest struct {
	UserID         string         `json:"userId"`
	NotificationID string         `json:"notificationId"`
	ActionID       string         `json:"actionId,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

type NotificationResponse struct {
	Success      bool                 `json:"success"`
	Notification *models.Notification `json:"notification,omitempty"`
	Updated      int                  `json:"updated,omitempty"`
	Action       *models.Action       `json:"action,omitempty"`
	Data         map[string]any       `json:"data,omitempty"`
}

// NotificationsHandler serves GET and POST /api/notifications. The
// operation is selected by the action query parameter.
func (a *API) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")

	if r.Method == http.MethodGet {
		if action != "" && action != "list" {
			writeError(w, fmt.Errorf("%w: unknown action %q", models.ErrInvalidRequest, action))
			return
		}
		userID, err := actingUser(r, r.URL.Query().Get("userId"))
		if err != nil {
			writeError(w, err)
			return
		}
		page, err := a.feed.List(userID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NotificationsResponse{Success: true, Page: page})
		return
	}

	var req NotificationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID, err := actingUser(r, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := NotificationResponse{Success: true}
	switch action {
	case "mark_read":
		var n models.Notification
		n, err = a.feed.MarkRead(userID, req.NotificationID)
		resp.Notification = &n
	case "mark_all_read":
		resp.Updated, err = a.feed.MarkAllRead(userID)
	case "delete":
		err = a.feed.Delete(userID, req.NotificationID)
	case "action":
		var res notify.ActionResult
		res, err = a.feed.ExecuteAction(userID, req.NotificationID, req.ActionID, req.Data)
		resp.Notification = &res.Notification
		resp.Action = &res.Action
		resp.Data = res.Data
	default:
		err = fmt.Errorf("%w: unknown action %q", models.ErrInvalidRequest, action)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
