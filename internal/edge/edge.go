// Package edge exposes the HTTP surface clients talk to: one route per
// supported wire protocol, each decoding a request body, building a
// RequestDescriptor, and driving it through the router. It never re-encodes
// a connector's response — the router only ever materializes routes that
// need no protocol conversion, so a response chunk already carries the
// shape the caller's protocol expects.
package edge

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/rakunlabs/gate/internal/config"
	"github.com/rakunlabs/gate/internal/router"
)

// Server is the HTTP edge: ada router, gateway auth configuration, and the
// Router it forwards requests to.
type Server struct {
	cfg    config.Server
	gw     config.Gateway
	router *router.Router
	server *ada.Server
	log    *slog.Logger
}

// New builds the edge server and registers every protocol route.
func New(cfg config.Server, gw config.Gateway, r *router.Router, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{cfg: cfg, gw: gw, router: r, server: mux, log: log}

	base := mux.Group(cfg.BasePath)
	base.GET("/health", s.Health)
	base.GET("/metrics", s.Metrics)

	v1 := mux.Group(cfg.BasePath + "/v1")
	v1.POST("/messages", s.protocolHandler(router.ProtocolAnthropic))
	v1.POST("/chat/completions", s.protocolHandler(router.ProtocolOpenAIChat))
	v1.POST("/responses", s.protocolHandler(router.ProtocolOpenAIResponses))
	v1.POST("/completions", s.protocolHandler(router.ProtocolOpenAICompletions))
	v1.GET("/models", s.ListModels)

	return s
}

// Start runs the edge server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	s.log.Info("starting edge server", "addr", addr)
	return s.server.StartWithContext(ctx, addr)
}

// Health reports liveness unconditionally; it does not depend on any
// connector being currently healthy.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	httpResponseJSON(w, map[string]any{"status": "ok"}, http.StatusOK)
}

// Metrics reports the connector snapshot index the router is routing
// against, for operators without a separate telemetry pipeline.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	idx := s.router.Index()
	if idx == nil {
		httpResponseJSON(w, map[string]any{"connectors": []any{}}, http.StatusOK)
		return
	}

	snapshots := idx.List()
	out := make([]map[string]any, 0, len(snapshots))
	for id, snap := range snapshots {
		out = append(out, map[string]any{
			"id":      id,
			"healthy": snap.Health.Healthy,
			"latency_ms": snap.Health.LatencyMS,
			"error_rate": snap.Health.ErrorRate,
		})
	}
	httpResponseJSON(w, map[string]any{"connectors": out}, http.StatusOK)
}
