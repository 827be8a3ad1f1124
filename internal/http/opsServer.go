package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"beacon/internal/api"
	"beacon/internal/metrics"
)

type OpsServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewOpsServer(opsHandler *api.OpsHandler, addr string) *OpsServer {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /ops/tokens", opsHandler.IssueTokenHandler)
	mux.HandleFunc("DELETE /ops/tokens", opsHandler.RevokeTokensHandler)
	mux.HandleFunc("GET /ops/connections", opsHandler.ConnectionsHandler)

	if addr == "" {
		addr = "localhost:8081"
	}

	return &OpsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *OpsServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *OpsServer) Start() error {
	log.Printf("Ops API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *OpsServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
