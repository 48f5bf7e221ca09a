package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/flowmesh/jobbroker/internal/config"
	"github.com/flowmesh/jobbroker/internal/hub"
)

// httpMux wires the hub's websocket upgrade handler under /ws/, the path
// prefix its role/id routing expects, behind the recovery/request-id/CORS/
// rate-limit middleware chain.
func httpMux(h *hub.Hub, cfg config.Hub, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws/", h)

	var handler http.Handler = mux
	handler = hub.PerIPRateLimit(cfg.HTTPRatePerSecond, cfg.HTTPBurst)(handler)
	if len(cfg.CORSAllowOrigins) > 0 {
		handler = hub.CORS(cfg.CORSAllowOrigins)(handler)
	}
	handler = hub.RequestID()(handler)
	handler = hub.Recovery(log)(handler)
	return handler
}

// httpServer is a minimal wrapper so main.go can start and gracefully stop
// the hub's websocket listener alongside the metrics/health server.
type httpServer struct {
	addr    string
	handler http.Handler
	srv     *http.Server
}

func (s *httpServer) run() error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.handler}
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *httpServer) shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
