package bridge

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/converso/converso-relay/internal/transcript"
	"github.com/converso/converso-relay/internal/upstream"
)

// ErrInvalidRequest is returned when the inbound message list is missing or
// empty. No upstream calls are made in that case.
var ErrInvalidRequest = errors.New("bridge: messages must be a non-empty list")

// ChatMessage is one entry of the inbound chat history. All but the last
// message are replayed upstream as conversation context; the last one is the
// active user turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PollMetrics receives poll loop counters from completed exchanges.
type PollMetrics interface {
	RecordPollAttempts(attempts int, timedOut bool)
}

// Bridge orchestrates one chat turn against the agent service: conversation
// creation, ordered context replay, run creation, polling, and mapping of the
// outcome to the outbound event sequence.
type Bridge struct {
	agent   upstream.AgentService
	poller  *Poller
	journal transcript.Store
	metrics PollMetrics
	logger  *log.Logger
}

// New constructs a Bridge with default poll policy.
func New(agent upstream.AgentService) *Bridge {
	return &Bridge{
		agent:  agent,
		poller: NewPoller(agent, DefaultPollInterval, DefaultPollMaxAttempts),
	}
}

// SetPollPolicy overrides the poll interval and attempt cap.
func (b *Bridge) SetPollPolicy(interval time.Duration, maxAttempts int) {
	b.poller = NewPoller(b.agent, interval, maxAttempts)
}

// SetJournal enables append-only exchange journaling. The journal is write
// only; nothing is read back into the chat flow.
func (b *Bridge) SetJournal(store transcript.Store) {
	b.journal = store
}

// SetMetrics attaches a poll counter sink.
func (b *Bridge) SetMetrics(m PollMetrics) {
	b.metrics = m
}

// SetLogger attaches a logger for per-exchange diagnostics.
func (b *Bridge) SetLogger(logger *log.Logger) {
	b.logger = logger
}

// HandleChat runs one chat exchange and streams outbound events. The
// returned channel always carries start as the first event, at most one
// content event, and exactly one terminal end/error event, after which it is
// closed. Validation failures are returned directly and produce no stream.
func (b *Bridge) HandleChat(ctx context.Context, messages []ChatMessage) (<-chan Event, error) {
	if len(messages) == 0 {
		return nil, ErrInvalidRequest
	}

	// channel is buffered so the exchange goroutine can finish emitting the
	// terminal event even when the consumer is slightly behind
	ch := make(chan Event, 4)
	go b.run(ctx, messages, ch)
	return ch, nil
}

func (b *Bridge) run(ctx context.Context, messages []ChatMessage, ch chan<- Event) {
	defer close(ch)
	start := time.Now()

	emit := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	title := "relay chat " + uuid.New().String()
	conv, err := b.agent.CreateConversation(ctx, title)
	if err != nil {
		b.logf("chat conversation create failed: %v", err)
		emit(errorEvent("", "", err.Error()))
		b.record(transcript.Entry{
			Outcome:   transcript.OutcomeUpstreamError,
			Messages:  len(messages),
			LatencyMS: time.Since(start).Milliseconds(),
		})
		return
	}

	// context replay preserves conversational order: each message must be
	// acknowledged before the next is sent
	for _, msg := range messages[:len(messages)-1] {
		if _, err := b.agent.PostMessage(ctx, conv.SID, msg.Content, false); err != nil {
			b.logf("chat context replay failed conversation=%s: %v", conv.SID, err)
			emit(errorEvent("", conv.SID, err.Error()))
			b.recordExchange(conv.SID, "", transcript.OutcomeUpstreamError, len(messages), 0, start)
			return
		}
	}

	active := messages[len(messages)-1]
	if _, err := b.agent.PostMessage(ctx, conv.SID, active.Content, true); err != nil {
		b.logf("chat active turn failed conversation=%s: %v", conv.SID, err)
		emit(errorEvent("", conv.SID, err.Error()))
		b.recordExchange(conv.SID, "", transcript.OutcomeUpstreamError, len(messages), 0, start)
		return
	}

	run, err := b.agent.CreateRun(ctx, conv.SID)
	if err != nil {
		b.logf("chat run create failed conversation=%s: %v", conv.SID, err)
		emit(errorEvent("", conv.SID, err.Error()))
		b.recordExchange(conv.SID, "", transcript.OutcomeUpstreamError, len(messages), 0, start)
		return
	}

	if !emit(startEvent(run.SID, conv.SID)) {
		b.recordExchange(conv.SID, run.SID, transcript.OutcomeAborted, len(messages), 0, start)
		return
	}

	res, err := b.poller.Wait(ctx, conv.SID, run.SID)
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		b.logf("chat aborted conversation=%s run=%s attempts=%d", conv.SID, run.SID, res.Attempts)
		emit(errorEvent(run.SID, conv.SID, "Request aborted"))
		b.recordExchange(conv.SID, run.SID, transcript.OutcomeAborted, len(messages), res.Attempts, start)
	case err != nil:
		b.logf("chat poll failed conversation=%s run=%s attempts=%d: %v", conv.SID, run.SID, res.Attempts, err)
		emit(errorEvent(run.SID, conv.SID, err.Error()))
		b.recordExchange(conv.SID, run.SID, transcript.OutcomeUpstreamError, len(messages), res.Attempts, start)
	case res.TimedOut:
		b.logf("chat timed out conversation=%s run=%s attempts=%d", conv.SID, run.SID, res.Attempts)
		emit(errorEvent(run.SID, conv.SID, "Request timed out"))
		b.recordExchange(conv.SID, run.SID, transcript.OutcomeTimeout, len(messages), res.Attempts, start)
	case res.Status == upstream.StatusFailed:
		b.logf("chat run failed conversation=%s run=%s attempts=%d", conv.SID, run.SID, res.Attempts)
		emit(errorEvent(run.SID, conv.SID, "Run failed"))
		b.recordExchange(conv.SID, run.SID, transcript.OutcomeFailed, len(messages), res.Attempts, start)
	default:
		b.finishCompleted(ctx, conv.SID, run.SID, len(messages), res.Attempts, start, emit)
	}
}

// finishCompleted fetches the transcript, emits the single content event for
// the most recent assistant reply, then terminates the stream.
func (b *Bridge) finishCompleted(ctx context.Context, conversationID, runID string, msgCount, attempts int, start time.Time, emit func(Event) bool) {
	msgs, err := b.agent.ListMessages(ctx, conversationID)
	if err != nil {
		b.logf("chat fetch messages failed conversation=%s run=%s: %v", conversationID, runID, err)
		emit(errorEvent(runID, conversationID, err.Error()))
		b.recordExchange(conversationID, runID, transcript.OutcomeUpstreamError, msgCount, attempts, start)
		return
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.EqualFold(msgs[i].Role, "assistant") {
			if !emit(contentEvent(runID, conversationID, msgs[i].Content)) {
				b.recordExchange(conversationID, runID, transcript.OutcomeAborted, msgCount, attempts, start)
				return
			}
			break
		}
	}

	emit(endEvent(runID, conversationID))
	b.logf("chat completed conversation=%s run=%s attempts=%d total_ms=%d", conversationID, runID, attempts, time.Since(start).Milliseconds())
	b.recordExchange(conversationID, runID, transcript.OutcomeCompleted, msgCount, attempts, start)
}

func (b *Bridge) recordExchange(conversationID, runID string, outcome transcript.Outcome, msgCount, attempts int, start time.Time) {
	if b.metrics != nil && attempts > 0 {
		b.metrics.RecordPollAttempts(attempts, outcome == transcript.OutcomeTimeout)
	}
	b.record(transcript.Entry{
		ConversationSID: conversationID,
		RunSID:          runID,
		Outcome:         outcome,
		Messages:        msgCount,
		PollAttempts:    attempts,
		LatencyMS:       time.Since(start).Milliseconds(),
	})
}

func (b *Bridge) record(entry transcript.Entry) {
	if b.journal == nil {
		return
	}
	// journaling is best effort and must not use the request context: the
	// entry for an aborted exchange is written after cancellation
	jctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.journal.Record(jctx, entry); err != nil {
		b.logf("transcript record failed: %v", err)
	}
}

func (b *Bridge) logf(format string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}
