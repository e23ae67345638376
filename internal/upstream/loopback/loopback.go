package loopback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/converso/converso-relay/internal/upstream"
)

// Ensure Agent implements AgentService.
var _ upstream.AgentService = (*Agent)(nil)

// Agent is an in-memory agent backend that echoes the last user message.
// It keeps the relay usable without upstream credentials and anchors the
// end-to-end handler tests.
type Agent struct {
	mu            sync.Mutex
	nextID        int
	conversations map[string][]upstream.Message
	runs          map[string]string // run sId -> conversation sId
}

// New creates an Agent instance.
func New() *Agent {
	return &Agent{
		conversations: make(map[string][]upstream.Message),
		runs:          make(map[string]string),
	}
}

// CreateConversation opens an empty in-memory conversation.
func (a *Agent) CreateConversation(ctx context.Context, title string) (upstream.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	sid := fmt.Sprintf("conv_%d", a.nextID)
	a.conversations[sid] = nil
	return upstream.Conversation{SID: sid}, nil
}

// PostMessage appends a user message to the conversation.
func (a *Agent) PostMessage(ctx context.Context, conversationID, content string, mentionAgent bool) (upstream.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.conversations[conversationID]; !ok {
		return upstream.Message{}, errors.New("loopback: unknown conversation")
	}
	a.nextID++
	msg := upstream.Message{
		SID:     fmt.Sprintf("msg_%d", a.nextID),
		Role:    "user",
		Content: content,
	}
	a.conversations[conversationID] = append(a.conversations[conversationID], msg)
	return msg, nil
}

// CreateRun fabricates the assistant reply synchronously, so the run is
// already completed when the first poll arrives.
func (a *Agent) CreateRun(ctx context.Context, conversationID string) (upstream.Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs, ok := a.conversations[conversationID]
	if !ok {
		return upstream.Run{}, errors.New("loopback: unknown conversation")
	}

	// reply to the most recent user message; error when none exists
	var last *upstream.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.EqualFold(msgs[i].Role, "user") {
			last = &msgs[i]
			break
		}
	}
	if last == nil {
		return upstream.Run{}, errors.New("loopback: no user message to run against")
	}

	a.nextID++
	reply := upstream.Message{
		SID:     fmt.Sprintf("msg_%d", a.nextID),
		Role:    "assistant",
		Content: "[loopback] " + strings.TrimSpace(last.Content),
	}
	a.conversations[conversationID] = append(a.conversations[conversationID], reply)

	a.nextID++
	runID := fmt.Sprintf("run_%d", a.nextID)
	a.runs[runID] = conversationID
	return upstream.Run{SID: runID, Status: upstream.StatusCompleted}, nil
}

// GetRun reports completed for any run it has created.
func (a *Agent) GetRun(ctx context.Context, conversationID, runID string) (upstream.RunStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.runs[runID]; !ok {
		return "", errors.New("loopback: unknown run")
	}
	return upstream.StatusCompleted, nil
}

// ListMessages returns the conversation transcript.
func (a *Agent) ListMessages(ctx context.Context, conversationID string) ([]upstream.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs, ok := a.conversations[conversationID]
	if !ok {
		return nil, errors.New("loopback: unknown conversation")
	}
	out := make([]upstream.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
