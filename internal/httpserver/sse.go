package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// sseSession is one open event-stream connection. Frames are written whole
// (`data: <json>\n\n`) and flushed individually so the client never observes
// a partial frame.
type sseSession struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// openSSE prepares the response for event streaming.
func openSSE(w http.ResponseWriter) (*sseSession, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseSession{w: w, flusher: flusher}, nil
}

// Send serializes the payload as one complete frame.
func (s *sseSession) Send(payload interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", encoded); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Close flushes any buffered output. The connection itself is closed by the
// handler returning.
func (s *sseSession) Close() {
	s.flusher.Flush()
}
