package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
)

// JSON-RPC 2.0 error codes used by the local surface.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// chatParams is the payload shared by the chat RPC and the stream endpoint.
type chatParams struct {
	Messages []inboundMessage `json:"messages"`
}

type inboundMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HandleRPC serves the JSON-RPC POST surface. Streaming never happens here:
// the chat method only points the caller at the SSE endpoint.
func (s *Server) HandleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.rpcRespondError(w, nil, rpcParseError, "unable to read request body")
		return
	}
	_ = r.Body.Close()

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.rpcRespondError(w, nil, rpcParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		s.rpcRespondError(w, req.ID, rpcInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	s.debugf("rpc method=%s", req.Method)
	switch req.Method {
	case "getModels":
		s.rpcRespond(w, req.ID, map[string]interface{}{"models": s.agents})
	case "chat":
		var params chatParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				s.rpcRespondError(w, req.ID, rpcInvalidParams, "params must be an object with a messages list")
				return
			}
		}
		s.rpcRespond(w, req.ID, map[string]string{
			"message": "streaming responses are served over SSE; connect to GET /stream?method=chat&params=<url-encoded JSON>",
		})
	default:
		s.rpcRespondError(w, req.ID, rpcMethodNotFound, "method not found: "+req.Method)
	}
}

func (s *Server) rpcRespond(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	s.respondJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: normalizeID(id), Result: result})
}

func (s *Server) rpcRespondError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	s.respondJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: normalizeID(id), Error: &rpcError{Code: code, Message: message}})
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
