package api

import (
	"fmt"
	"net/http"

	"beacon/internal/models"
)

type PresenceResponse struct {
	Success  bool             `json:"success"`
	Presence *models.Presence `json:"presence,omitempty"`
	Online   []string         `json:"online,omitempty"`
}

// PresenceHandler answers for one user (?userId=) or lists who is online in
// a conversation the caller belongs to (?conversationId=).
func (a *API) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if conversationID := q.Get("conversationId"); conversationID != "" {
		if err := a.chat.CheckMember(conversationID, currentUser(r)); err != nil {
			writeError(w, err)
			return
		}
		online := a.presence.OnlineIn(conversationID)
		if online == nil {
			online = []string{}
		}
		writeJSON(w, http.StatusOK, PresenceResponse{Success: true, Online: online})
		return
	}

	userID := q.Get("userId")
	if userID == "" {
		userID = currentUser(r)
	}
	p := a.presence.Presence(userID)
	writeJSON(w, http.StatusOK, PresenceResponse{Success: true, Presence: &p})
}

func (a *API) UpdatePositionHandler(w http.ResponseWriter, r *http.Request) {
	var pos models.Position
	if err := decode(r, &pos); err != nil {
		writeError(w, err)
		return
	}
	if pos.Latitude < -90 || pos.Latitude > 90 || pos.Longitude < -180 || pos.Longitude > 180 {
		writeError(w, fmt.Errorf("%w: position out of range", models.ErrInvalidRequest))
		return
	}
	a.presence.UpdatePosition(currentUser(r), pos)
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}
