package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/converso/converso-relay/internal/bridge"
)

// HandleStream serves GET /stream: it validates the query contract, opens
// the SSE session, and forwards bridge events until the terminal one. The
// request context travels into the bridge, so a client disconnect aborts
// in-flight polling.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()

	if method := r.URL.Query().Get("method"); method != "chat" {
		s.respondError(w, http.StatusBadRequest, "unsupported method; expected method=chat")
		return
	}

	rawParams := r.URL.Query().Get("params")
	if rawParams == "" {
		s.respondError(w, http.StatusBadRequest, "missing params")
		return
	}
	var params chatParams
	if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
		s.respondError(w, http.StatusBadRequest, "params must be URL-encoded JSON")
		return
	}

	messages := make([]bridge.ChatMessage, 0, len(params.Messages))
	for _, m := range params.Messages {
		messages = append(messages, bridge.ChatMessage{Role: m.Role, Content: m.Content})
	}

	events, err := s.bridge.HandleChat(r.Context(), messages)
	if err != nil {
		if errors.Is(err, bridge.ErrInvalidRequest) {
			s.respondError(w, http.StatusBadRequest, err.Error())
		} else {
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	session, err := openSSE(w)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer session.Close()

	for ev := range events {
		s.metrics.RecordEvent(string(ev.Type))
		if err := session.Send(ev); err != nil {
			// best-effort close; the bridge notices the dead context and
			// stops on its own
			s.logf("stream write failed: %v", err)
			return
		}
		if ev.Terminal() {
			break
		}
	}

	s.logf("stream done total_ms=%d", time.Since(reqStart).Milliseconds())
}
