package upstream

import "context"

// RunStatus is the lifecycle state reported by the agent service for a run.
type RunStatus string

const (
	StatusPending    RunStatus = "pending"
	StatusInProgress RunStatus = "in_progress"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
)

// Terminal reports whether the status ends the run lifecycle.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Conversation is a server-side session container created per chat exchange.
type Conversation struct {
	SID string `json:"sId"`
}

// Message is a single entry in a conversation as stored upstream.
type Message struct {
	SID     string `json:"sId,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Run is one unit of agent work against the latest user message.
type Run struct {
	SID    string    `json:"sId"`
	Status RunStatus `json:"status,omitempty"`
}

// AgentService is the contract the relay requires from the conversational
// agent backend. The HTTP client implements it against the hosted service;
// the loopback package implements it in memory.
type AgentService interface {
	// CreateConversation opens a fresh conversation container.
	CreateConversation(ctx context.Context, title string) (Conversation, error)

	// PostMessage appends a message to the conversation. When mentionAgent
	// is true the message carries the agent mention and becomes the active
	// turn; context replays are posted without it.
	PostMessage(ctx context.Context, conversationID, content string, mentionAgent bool) (Message, error)

	// CreateRun asks the agent to process the latest user message.
	CreateRun(ctx context.Context, conversationID string) (Run, error)

	// GetRun fetches the current status of a run.
	GetRun(ctx context.Context, conversationID, runID string) (RunStatus, error)

	// ListMessages returns the conversation transcript in upstream order.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}
