package api

import (
	"fmt"
	"net/http"
	"strconv"

	"beacon/internal/models"
)

type HistoryResponse struct {
	Success  bool             `json:"success"`
	Messages []models.Message `json:"messages"`
}

// HistoryHandler serves GET /api/messages/history?conversationId&limit&before.
func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conversationID := q.Get("conversationId")
	if err := a.chat.CheckMember(conversationID, currentUser(r)); err != nil {
		writeError(w, err)
		return
	}

	limit := 0
	if l := q.Get("limit"); l != "" {
		var err error
		if limit, err = strconv.Atoi(l); err != nil {
			writeError(w, fmt.Errorf("%w: invalid limit %q", models.ErrInvalidRequest, l))
			return
		}
	}

	messages, err := a.chat.History(conversationID, limit, q.Get("before"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Success: true, Messages: messages})
}

type CreateConversationRequest struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
}

type ConversationResponse struct {
	Success      bool                `json:"success"`
	Conversation models.Conversation `json:"conversation"`
}

// CreateConversationHandler records the participant set. The caller is
// always a participant.
func (a *API) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	userID := currentUser(r)
	existing, err := a.chat.Conversation(req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(existing.Participants) > 0 && !existing.HasParticipant(userID) {
		writeError(w, fmt.Errorf("%w: conversation %s", models.ErrForbidden, req.ID))
		return
	}

	participants := []string{userID}
	for _, p := range req.Participants {
		if p != userID {
			participants = append(participants, p)
		}
	}

	conv, err := a.chat.CreateConversation(req.ID, participants)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{Success: true, Conversation: conv})
}
