package httpserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/converso/converso-relay/internal/bridge"
	"github.com/converso/converso-relay/internal/config"
	"github.com/converso/converso-relay/internal/health"
	"github.com/converso/converso-relay/internal/httpserver/protocol"
	"github.com/converso/converso-relay/internal/metrics"
	"github.com/converso/converso-relay/internal/ratelimit"
)

var defaultEndpointKeys = []string{"rpc", "stream", "health", "metrics"}

// ChatBridge is the bridge behaviour required by the HTTP layer.
type ChatBridge interface {
	HandleChat(ctx context.Context, messages []bridge.ChatMessage) (<-chan bridge.Event, error)
}

// TokenValidator validates bearer tokens guarding the local endpoints.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Server exposes the relay's local endpoints: the JSON-RPC surface, the SSE
// chat stream, health, and metrics.
type Server struct {
	bridge  ChatBridge
	agents  []config.AgentDescriptor
	checker *health.Checker
	metrics *metrics.Collector
	limiter *ratelimit.Limiter

	auth         TokenValidator
	authDisabled bool

	logger   *log.Logger
	logLevel string

	endpointKeys []string
}

// New constructs a Server with the required dependencies.
func New(chatBridge ChatBridge, agents []config.AgentDescriptor) *Server {
	return &Server{
		bridge:       chatBridge,
		agents:       agents,
		metrics:      metrics.NewCollector(),
		authDisabled: true,
		endpointKeys: defaultEndpointKeys,
	}
}

// SetAuth installs a token validator; pass disabled=true to keep the
// endpoints open (the default for local desktop deployments).
func (s *Server) SetAuth(validator TokenValidator, disabled bool) {
	s.auth = validator
	s.authDisabled = disabled
}

// SetHealthChecker attaches dependency probes to the health endpoint.
func (s *Server) SetHealthChecker(checker *health.Checker) {
	s.checker = checker
}

// SetRateLimiter installs a per-client limiter for the rpc and stream
// endpoints.
func (s *Server) SetRateLimiter(limiter *ratelimit.Limiter) {
	s.limiter = limiter
}

// SetLogger configures the request logger and level for debug output.
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	s.logger = logger
}

// SetEndpointKeys overrides which endpoint groups are served.
func (s *Server) SetEndpointKeys(keys []string) {
	if len(keys) == 0 {
		keys = defaultEndpointKeys
	}
	s.endpointKeys = keys
}

// Metrics exposes the collector for out-of-band recording.
func (s *Server) Metrics() *metrics.Collector {
	return s.metrics
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	for _, key := range s.endpointKeys {
		ep := s.endpointByKey(strings.ToLower(strings.TrimSpace(key)))
		if ep == nil {
			s.debugf("endpoint %s unavailable, skipping registration", key)
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
	return r
}

func (s *Server) endpointByKey(key string) protocol.Endpoint {
	switch key {
	case "rpc":
		return newRPCEndpoint(s)
	case "stream", "sse":
		return newStreamEndpoint(s)
	case "health", "status":
		return newHealthEndpoint(s)
	case "metrics":
		return newMetricsEndpoint(s)
	default:
		return nil
	}
}

// guard wraps chat-facing handlers with rate limiting and optional bearer
// authentication.
func (s *Server) guard(endpoint string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
			s.metrics.RecordError(endpoint)
			s.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		if s.auth != nil && !s.authDisabled {
			token := bearerToken(r)
			if token == "" {
				s.respondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			if _, err := s.auth.ValidateToken(token); err != nil {
				s.respondError(w, http.StatusUnauthorized, err.Error())
				return
			}
		}
		start := time.Now()
		fn(w, r)
		s.metrics.RecordRequest(endpoint, time.Since(start))
	})
}

func clientKey(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) isDebug() bool {
	return s.logLevel == "debug"
}

func (s *Server) debugf(format string, args ...interface{}) {
	if s.isDebug() && s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
