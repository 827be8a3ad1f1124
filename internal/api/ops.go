package api

import (
	"fmt"
	"net/http"

	"beacon/internal/auth"
	"beacon/internal/content"
	"beacon/internal/models"
	"beacon/internal/registry"
	"beacon/internal/ws"
)

// OpsHandler serves the operator endpoints. The ops server must only be
// reachable from trusted networks.
type OpsHandler struct {
	authService *auth.AuthService
	hub         *ws.Hub
	registry    *registry.Registry
}

func NewOpsHandler(authService *auth.AuthService, hub *ws.Hub, reg *registry.Registry) *OpsHandler {
	return &OpsHandler{authService: authService, hub: hub, registry: reg}
}

type IssueTokenRequest struct {
	UserID string `json:"userId"`
}

func (h *OpsHandler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := content.ValidateID(req.UserID); err != nil {
		writeError(w, fmt.Errorf("%w: userId: %v", models.ErrInvalidRequest, err))
		return
	}

	resp, err := h.authService.IssueToken(req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type RevokeResponse struct {
	Success      bool `json:"success"`
	Revoked      int  `json:"revoked"`
	Disconnected int  `json:"disconnected"`
}

// RevokeTokensHandler serves DELETE /ops/tokens?userId=. Open connections of
// the user are closed as well.
func (h *OpsHandler) RevokeTokensHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, fmt.Errorf("%w: userId is required", models.ErrInvalidRequest))
		return
	}

	writeJSON(w, http.StatusOK, RevokeResponse{
		Success:      true,
		Revoked:      h.authService.RevokeUser(userID),
		Disconnected: h.hub.DisconnectUser(userID, "token revoked"),
	})
}

type ConnectionInfo struct {
	ConnectionID   string `json:"connectionId"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	ConnectedAt    int64  `json:"connectedAt"`
}

type ConnectionsResponse struct {
	Success     bool             `json:"success"`
	Connections []ConnectionInfo `json:"connections"`
}

func (h *OpsHandler) ConnectionsHandler(w http.ResponseWriter, r *http.Request) {
	records := h.registry.Records()
	resp := ConnectionsResponse{Success: true, Connections: make([]ConnectionInfo, 0, len(records))}
	for _, rec := range records {
		resp.Connections = append(resp.Connections, ConnectionInfo{
			ConnectionID:   rec.Handle.ID(),
			UserID:         rec.UserID,
			ConversationID: rec.ConversationID,
			ConnectedAt:    rec.ConnectedAt.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
