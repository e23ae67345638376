package bridge

import (
	"context"
	"time"

	"github.com/converso/converso-relay/internal/upstream"
)

const (
	// DefaultPollInterval is the delay between run status queries.
	DefaultPollInterval = time.Second
	// DefaultPollMaxAttempts caps the number of status queries per run;
	// together with the interval it bounds a chat exchange to one minute.
	DefaultPollMaxAttempts = 60
)

// PollResult is the outcome of waiting for a run to reach a terminal state.
type PollResult struct {
	// Status is completed or failed when the run terminated upstream; it is
	// empty when the attempt budget ran out.
	Status   upstream.RunStatus
	Attempts int
	TimedOut bool
}

// Poller repeatedly queries run status until a terminal state or the attempt
// budget is exhausted. Each Wait call owns its own timer and counter, so
// concurrent chat requests never share poll state.
type Poller struct {
	agent       upstream.AgentService
	interval    time.Duration
	maxAttempts int
}

// NewPoller creates a Poller. Non-positive interval or attempts fall back to
// the defaults.
func NewPoller(agent upstream.AgentService, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollMaxAttempts
	}
	return &Poller{agent: agent, interval: interval, maxAttempts: maxAttempts}
}

// Wait polls the run until it completes, fails, or the budget is exhausted.
// A transport error on any tick is returned immediately without further
// polling. Context cancellation stops the loop between ticks.
func (p *Poller) Wait(ctx context.Context, conversationID, runID string) (PollResult, error) {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		status, err := p.agent.GetRun(ctx, conversationID, runID)
		if err != nil {
			return PollResult{Attempts: attempt}, err
		}
		if status.Terminal() {
			return PollResult{Status: status, Attempts: attempt}, nil
		}
		if attempt >= p.maxAttempts {
			return PollResult{Attempts: attempt, TimedOut: true}, nil
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			return PollResult{Attempts: attempt}, ctx.Err()
		case <-timer.C:
		}
	}
}
