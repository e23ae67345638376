package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ensure Client implements AgentService.
var _ AgentService = (*Client)(nil)

// Client talks to the hosted conversational-agent HTTP API. It is immutable
// after construction and safe to share across concurrent chat requests.
type Client struct {
	apiKey      string
	baseURL     string
	workspaceID string
	agentID     string
	userName    string
	timezone    string
	httpClient  *http.Client
}

// Config holds configuration for the upstream client.
type Config struct {
	APIKey      string
	BaseURL     string // optional, defaults to https://agents.converso.dev
	WorkspaceID string
	AgentID     string
	UserName    string // optional, reported in the message context block
	Timezone    string // optional, defaults to UTC
	// RequestTimeout bounds each individual upstream call, not the whole
	// chat exchange; the poll loop enforces the overall ceiling.
	RequestTimeout time.Duration
}

// New creates a Client instance.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("upstream: api key required")
	}
	if cfg.WorkspaceID == "" {
		return nil, errors.New("upstream: workspace id required")
	}
	if cfg.AgentID == "" {
		return nil, errors.New("upstream: agent id required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://agents.converso.dev"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	userName := strings.TrimSpace(cfg.UserName)
	if userName == "" {
		userName = "relay"
	}
	timezone := strings.TrimSpace(cfg.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		workspaceID: cfg.WorkspaceID,
		agentID:     cfg.AgentID,
		userName:    userName,
		timezone:    timezone,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// AgentID returns the configured agent configuration sId.
func (c *Client) AgentID() string { return c.agentID }

// BaseURL returns the upstream service base URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) conversationsPath() string {
	return fmt.Sprintf("/api/v1/w/%s/assistant/conversations", c.workspaceID)
}

// CreateConversation opens a new conversation container upstream.
func (c *Client) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	payload := map[string]interface{}{
		"title":      title,
		"visibility": "unlisted",
	}
	var out struct {
		Conversation Conversation `json:"conversation"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.conversationsPath(), payload, &out); err != nil {
		return Conversation{}, fmt.Errorf("upstream: create conversation: %w", err)
	}
	if out.Conversation.SID == "" {
		return Conversation{}, errors.New("upstream: create conversation: missing sId in response")
	}
	return out.Conversation, nil
}

// PostMessage appends a message to the conversation. The active user turn
// mentions the configured agent; context replays do not.
func (c *Client) PostMessage(ctx context.Context, conversationID, content string, mentionAgent bool) (Message, error) {
	mentions := []map[string]string{}
	if mentionAgent {
		mentions = append(mentions, map[string]string{"configurationId": c.agentID})
	}
	payload := map[string]interface{}{
		"content":  content,
		"mentions": mentions,
		"context": map[string]string{
			"username": c.userName,
			"timezone": c.timezone,
			"origin":   "api",
		},
	}
	var out struct {
		Message Message `json:"message"`
	}
	path := fmt.Sprintf("%s/%s/messages", c.conversationsPath(), conversationID)
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &out); err != nil {
		return Message{}, fmt.Errorf("upstream: post message: %w", err)
	}
	return out.Message, nil
}

// CreateRun starts agent processing for the latest user message.
func (c *Client) CreateRun(ctx context.Context, conversationID string) (Run, error) {
	payload := map[string]interface{}{
		"agentConfiguration": map[string]string{"sId": c.agentID},
		"dataSources":        []interface{}{},
	}
	var out struct {
		Run Run `json:"run"`
	}
	path := fmt.Sprintf("%s/%s/runs", c.conversationsPath(), conversationID)
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &out); err != nil {
		return Run{}, fmt.Errorf("upstream: create run: %w", err)
	}
	if out.Run.SID == "" {
		return Run{}, errors.New("upstream: create run: missing sId in response")
	}
	return out.Run, nil
}

// GetRun fetches the current run status.
func (c *Client) GetRun(ctx context.Context, conversationID, runID string) (RunStatus, error) {
	var out struct {
		Run struct {
			Status RunStatus `json:"status"`
		} `json:"run"`
	}
	path := fmt.Sprintf("%s/%s/runs/%s", c.conversationsPath(), conversationID, runID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", fmt.Errorf("upstream: get run: %w", err)
	}
	if out.Run.Status == "" {
		return "", errors.New("upstream: get run: missing status in response")
	}
	return out.Run.Status, nil
}

// ListMessages returns the full conversation transcript.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	path := fmt.Sprintf("%s/%s/messages", c.conversationsPath(), conversationID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("upstream: list messages: %w", err)
	}
	return out.Messages, nil
}

// doJSON performs one request/response round trip with the shared bearer
// credentials. Each operation is attempted exactly once; retry policy, if
// any, belongs to the caller of the relay.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return fmt.Errorf("http %d: %s (type=%s)", resp.StatusCode, errResp.Error.Message, errResp.Error.Type)
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, previewBody(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func previewBody(body []byte) string {
	const max = 256
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > max {
		return trimmed[:max] + "..."
	}
	return trimmed
}
