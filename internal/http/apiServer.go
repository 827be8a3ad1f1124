package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"beacon/internal/api"
	"beacon/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(apiHandlers *api.API, wsServer *ws.Server, addr string) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/messages/history", apiHandlers.RequireAuth(apiHandlers.HistoryHandler))
	mux.HandleFunc("POST /api/conversations", apiHandlers.RequireAuth(apiHandlers.CreateConversationHandler))
	mux.HandleFunc("GET /api/notifications", apiHandlers.RequireAuth(apiHandlers.NotificationsHandler))
	mux.HandleFunc("POST /api/notifications", apiHandlers.RequireAuth(apiHandlers.NotificationsHandler))
	mux.HandleFunc("GET /api/notifications/subscribe", apiHandlers.RequireAuth(apiHandlers.SubscriptionsHandler))
	mux.HandleFunc("POST /api/notifications/subscribe", apiHandlers.RequireAuth(apiHandlers.SubscriptionsHandler))
	mux.HandleFunc("POST /api/bookings", apiHandlers.RequireAuth(apiHandlers.CreateBookingHandler))
	mux.HandleFunc("GET /api/bookings", apiHandlers.RequireAuth(apiHandlers.GetBookingHandler))
	mux.HandleFunc("POST /api/bookings/status", apiHandlers.RequireAuth(apiHandlers.UpdateBookingStatusHandler))
	mux.HandleFunc("POST /api/events/payment", apiHandlers.RequireAuth(apiHandlers.PaymentEventHandler))
	mux.HandleFunc("GET /api/presence", apiHandlers.RequireAuth(apiHandlers.PresenceHandler))
	mux.HandleFunc("POST /api/presence/position", apiHandlers.RequireAuth(apiHandlers.UpdatePositionHandler))
	mux.HandleFunc("POST /api/upload/attachment", apiHandlers.RequireAuth(apiHandlers.UploadAttachmentHandler))
	mux.HandleFunc("GET /api/attachments/{id}", apiHandlers.RequireAuth(apiHandlers.GetAttachmentHandler))

	// WebSocket endpoint, authenticated in-band by the first frame
	mux.HandleFunc("/ws", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler exposes the router for in-process tests.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
