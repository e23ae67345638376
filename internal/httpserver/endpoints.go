package httpserver

import (
	"net/http"

	"github.com/converso/converso-relay/internal/httpserver/protocol"
	"github.com/converso/converso-relay/internal/version"
)

type rpcEndpoint struct {
	server *Server
}

func newRPCEndpoint(server *Server) protocol.Endpoint {
	return &rpcEndpoint{server: server}
}

func (e *rpcEndpoint) Name() string { return "rpc" }

func (e *rpcEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/rpc", Handler: e.server.guard("rpc", e.server.HandleRPC)},
	}
}

type streamEndpoint struct {
	server *Server
}

func newStreamEndpoint(server *Server) protocol.Endpoint {
	return &streamEndpoint{server: server}
}

func (e *streamEndpoint) Name() string { return "stream" }

func (e *streamEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/stream", Handler: e.server.guard("stream", e.server.HandleStream)},
	}
}

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
	}
}

// HandleHealth reports overall status plus per-component probe results.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"status":  "ok",
		"version": version.Info(),
	}
	if s.checker != nil {
		components := s.checker.Check(r.Context())
		payload["components"] = components
		if s.checker.Overall(components) != "healthy" {
			payload["status"] = "degraded"
		}
	}
	s.respondJSON(w, http.StatusOK, payload)
}

type metricsEndpoint struct {
	server *Server
}

func newMetricsEndpoint(server *Server) protocol.Endpoint {
	return &metricsEndpoint{server: server}
}

func (e *metricsEndpoint) Name() string { return "metrics" }

func (e *metricsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: http.HandlerFunc(e.server.HandleMetrics)},
	}
}

// HandleMetrics renders the collector in text exposition format.
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.metrics.Export()))
}
