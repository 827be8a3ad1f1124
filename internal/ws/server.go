package ws

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"beacon/internal/models"

	"github.com/gorilla/websocket"
)

type Server struct {
	ctx         context.Context
	hub         messageHub
	readTimeout time.Duration
	heartbeat   time.Duration
	upgrader    *websocket.Upgrader
}

// NewServer returns the websocket endpoint. Connections live until ctx is
// cancelled or the client goes away; authentication happens in-band.
// heartbeat is the ping period advertised in auth_ok and readTimeout must
// exceed it.
func NewServer(ctx context.Context, hub *Hub, readTimeout, heartbeat time.Duration) *Server {
	return &Server{
		ctx:         ctx,
		hub:         hub,
		readTimeout: readTimeout,
		heartbeat:   heartbeat,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	conn := NewConnection(s.hub, ws, s.readTimeout)
	conn.heartbeat = s.heartbeat
	if err := conn.Handle(s.ctx); err != nil && !isClientGone(err) {
		slog.Warn("connection closed with error", "user_id", conn.UserID(), "error", err)
	}
}

func isClientGone(err error) bool {
	return errors.Is(err, models.ErrTransport) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
