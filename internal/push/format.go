package push

import (
	"fmt"
	"net/url"
	"time"

	"beacon/internal/models"
)

const (
	defaultIcon  = "/icons/icon-192x192.png"
	defaultBadge = "/icons/badge-72x72.png"
)

// PayloadAction is a service worker notification action.
type PayloadAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Payload is the JSON document a service worker turns into a system notification.
type Payload struct {
	Title              string          `json:"title"`
	Body               string          `json:"body"`
	Icon               string          `json:"icon"`
	Badge              string          `json:"badge"`
	Tag                string          `json:"tag"`
	Data               map[string]any  `json:"data"`
	RequireInteraction bool            `json:"requireInteraction"`
	Silent             bool            `json:"silent"`
	Actions            []PayloadAction `json:"actions"`
	Timestamp          int64           `json:"timestamp"`
	Renotify           bool            `json:"renotify"`
}

// Format is the per-type presentation rule set.
type Format struct {
	Icon               string
	RequireInteraction bool
	Silent             bool
	Renotify           bool
	Actions            []PayloadAction
}

var defaultFormat = Format{
	Icon:    defaultIcon,
	Actions: []PayloadAction{{Action: "view", Title: "View"}},
}

// formats is keyed by notification type. Add an entry to support a new type.
var formats = map[string]Format{
	"booking_request": {
		Icon:               "/icons/booking.png",
		RequireInteraction: true,
		Renotify:           true,
		Actions: []PayloadAction{
			{Action: "accept", Title: "Accept"},
			{Action: "decline", Title: "Decline"},
		},
	},
	"booking_confirmed": {
		Icon:    "/icons/booking.png",
		Actions: []PayloadAction{{Action: "view", Title: "View booking"}},
	},
	"booking_update": {
		Icon:    "/icons/booking.png",
		Actions: []PayloadAction{{Action: "view", Title: "View booking"}},
	},
	"payment_request": {
		Icon:               "/icons/payment.png",
		RequireInteraction: true,
		Actions:            []PayloadAction{{Action: "pay", Title: "Pay now"}},
	},
	"payment_received": {
		Icon:    "/icons/payment.png",
		Actions: []PayloadAction{{Action: "view", Title: "View"}},
	},
	"reminder": {
		Icon:               "/icons/reminder.png",
		RequireInteraction: true,
		Actions:            []PayloadAction{{Action: "view", Title: "View"}},
	},
	"new_message": {
		Icon:     "/icons/message.png",
		Renotify: true,
		Actions: []PayloadAction{
			{Action: "reply", Title: "Reply"},
			{Action: "view", Title: "View"},
		},
	},
	"test": {
		Icon:   defaultIcon,
		Silent: true,
	},
}

// FormatFor returns the rules for a notification type.
func FormatFor(notificationType string) Format {
	if f, ok := formats[notificationType]; ok {
		return f
	}
	return defaultFormat
}

// BuildPayload renders a stored notification for platform push.
func BuildPayload(n models.Notification) Payload {
	f := FormatFor(n.Type)

	data := make(map[string]any, len(n.Data)+3)
	for k, v := range n.Data {
		data[k] = v
	}
	data["notificationId"] = n.ID
	data["type"] = n.Type
	data["url"] = ClickTarget("", data)

	actions := f.Actions
	if _, known := formats[n.Type]; !known && len(n.Actions) > 0 {
		actions = make([]PayloadAction, len(n.Actions))
		for i, a := range n.Actions {
			actions[i] = PayloadAction{Action: a.ID, Title: a.Label}
		}
	}
	if actions == nil {
		actions = []PayloadAction{}
	}

	ts := n.CreatedAt
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	return Payload{
		Title:              n.Title,
		Body:               n.Message,
		Icon:               f.Icon,
		Badge:              defaultBadge,
		Tag:                tag(n),
		Data:               data,
		RequireInteraction: f.RequireInteraction || n.Priority == models.PriorityUrgent,
		Silent:             f.Silent,
		Actions:            actions,
		Timestamp:          ts,
		Renotify:           f.Renotify,
	}
}

// tag collapses notifications about the same subject on the device.
func tag(n models.Notification) string {
	for _, k := range []string{"bookingId", "conversationId"} {
		if v, ok := n.Data[k].(string); ok && v != "" {
			return fmt.Sprintf("%s-%s", n.Type, v)
		}
	}
	return n.Type + "-" + n.ID
}

// ClickTarget resolves the URL a notification click opens, the way the
// service worker routes it.
func ClickTarget(actionID string, data map[string]any) string {
	str := func(k string) string {
		v, _ := data[k].(string)
		return v
	}
	bookingID := str("bookingId")
	conversationID := str("conversationId")

	switch actionID {
	case "accept", "decline":
		if bookingID != "" {
			return "/bookings/" + url.PathEscape(bookingID) + "?action=" + actionID
		}
	case "pay":
		if bookingID != "" {
			return "/bookings/" + url.PathEscape(bookingID) + "/pay"
		}
	case "reply":
		if conversationID != "" {
			return "/messages/" + url.PathEscape(conversationID) + "?reply=true"
		}
	}

	switch {
	case str("url") != "":
		return str("url")
	case bookingID != "":
		return "/bookings/" + url.PathEscape(bookingID)
	case conversationID != "":
		return "/messages/" + url.PathEscape(conversationID)
	}
	return "/notifications"
}
