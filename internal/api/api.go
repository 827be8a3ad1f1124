package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strings"

	"beacon/internal/auth"
	"beacon/internal/booking"
	"beacon/internal/chat"
	"beacon/internal/filestore"
	"beacon/internal/models"
	"beacon/internal/notify"
	"beacon/internal/presence"
	"beacon/internal/push"
)

type ctxKey struct{}

type API struct {
	auth     *auth.AuthService
	chat     *chat.Store
	feed     *notify.Feed
	bridge   *push.Bridge
	bookings *booking.Service
	presence *presence.Tracker
	files    filestore.FileStore
}

type Deps struct {
	Auth     *auth.AuthService
	Chat     *chat.Store
	Feed     *notify.Feed
	Bridge   *push.Bridge
	Bookings *booking.Service
	Presence *presence.Tracker
	Files    filestore.FileStore
}

func New(deps Deps) *API {
	return &API{
		auth:     deps.Auth,
		chat:     deps.Chat,
		feed:     deps.Feed,
		bridge:   deps.Bridge,
		bookings: deps.Bookings,
		presence: deps.Presence,
		files:    deps.Files,
	}
}

// getToken looks at the token header, a bearer Authorization header, the
// token query parameter and finally the token cookie.
func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(a.getToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	}
}

func currentUser(r *http.Request) string {
	userID, _ := r.Context().Value(ctxKey{}).(string)
	return userID
}

// actingUser returns the authenticated user. A userId named in the request
// must be the same user.
func actingUser(r *http.Request, claimed string) (string, error) {
	userID := currentUser(r)
	if claimed != "" && claimed != userID {
		return "", fmt.Errorf("%w: cannot act as %s", models.ErrForbidden, claimed)
	}
	return userID, nil
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", models.ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden), errors.Is(err, models.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrActionNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidRequest),
		errors.Is(err, models.ErrInvalidMessage),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, statusFor(err), err)
}

func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, models.APIResponse{Success: false, Error: msg})
}
