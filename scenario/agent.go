package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-oracle/logger"
	"github.com/mykhaliev/agent-oracle/model"
)

// ErrReplayExhausted is returned when a replay has no recorded response left.
var ErrReplayExhausted = errors.New("replay exhausted")

// Agent is the system under test: one message in, one response out.
type Agent interface {
	Chat(ctx context.Context, message string) (*AgentResponse, error)
}

type AgentResponse struct {
	Text      string           `json:"text"`
	ToolCalls []model.ToolCall `json:"toolCalls,omitempty"`
	Usage     *model.Usage     `json:"usage,omitempty"`
	Model     string           `json:"model,omitempty"`
	// Error makes a recorded turn fail as an agent error.
	Error string `json:"error,omitempty"`
}

// Recording is the on-disk replay format. Responses is used for every run; Runs
// gives each run its own sequence, cycling when there are more runs than entries.
type Recording struct {
	Model     string            `json:"model,omitempty"`
	Responses []AgentResponse   `json:"responses,omitempty"`
	Runs      [][]AgentResponse `json:"runs,omitempty"`
}

// ReplayAgent answers with recorded responses in order. Call Reset before each run.
type ReplayAgent struct {
	mu      sync.Mutex
	model   string
	runs    [][]AgentResponse
	run     int
	next    int
	started bool
}

var _ Agent = (*ReplayAgent)(nil)

func NewReplayAgent(rec Recording) (*ReplayAgent, error) {
	runs := rec.Runs
	if len(runs) == 0 && len(rec.Responses) > 0 {
		runs = [][]AgentResponse{rec.Responses}
	}
	if len(runs) == 0 {
		return nil, errors.New("recording has no responses")
	}
	return &ReplayAgent{model: rec.Model, runs: runs}, nil
}

// LoadReplayAgent reads a JSON recording from path.
func LoadReplayAgent(path string) (*ReplayAgent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}

	var rec Recording
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse recording %s: %w", path, err)
	}
	return NewReplayAgent(rec)
}

// Reset moves to the next run's sequence and rewinds it.
func (r *ReplayAgent) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.run = (r.run + 1) % len(r.runs)
	}
	r.started = true
	r.next = 0
}

func (r *ReplayAgent) Chat(ctx context.Context, message string) (*AgentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.runs[r.run]
	if r.next >= len(seq) {
		return nil, fmt.Errorf("%w after %d response(s)", ErrReplayExhausted, len(seq))
	}
	resp := seq[r.next]
	r.next++

	logger.Logger.Debug("Replaying agent response",
		"run", r.run, "turn", r.next, "message", model.TruncateString(message, 80))

	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	if resp.Model == "" {
		resp.Model = r.model
	}
	return &resp, nil
}
