package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/mykhaliev/agent-oracle/assertion"
	"github.com/mykhaliev/agent-oracle/logger"
)

// ============================================================================
// AGENT OUTPUT
// ============================================================================

// ToolCall is a single tool invocation emitted by the agent under test.
type ToolCall struct {
	Name   string                 `json:"name" yaml:"name"`
	Args   map[string]interface{} `json:"args,omitempty" yaml:"args,omitempty"`
	Result interface{}            `json:"result,omitempty" yaml:"result,omitempty"`
}

// EntityRow is a materialized database row. Every row carries an "id".
type EntityRow map[string]interface{}

func (r EntityRow) ID() string {
	if r == nil {
		return ""
	}
	id, ok := r["id"]
	if !ok || id == nil {
		return ""
	}
	return fmt.Sprint(id)
}

// Get reads a field, following dot notation into nested objects.
func (r EntityRow) Get(field string) (interface{}, bool) {
	return GetNestedValue(r, field)
}

// GetNestedValue retrieves a value from a nested map using dot notation
// e.g., "args.inner.value" traverses m["args"]["inner"]["value"]
func GetNestedValue(m map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := m[path]; ok {
		return v, true
	}

	var current interface{} = m
	for _, key := range strings.Split(path, ".") {
		var currentMap map[string]interface{}
		switch typed := current.(type) {
		case map[string]interface{}:
			currentMap = typed
		case EntityRow:
			currentMap = typed
		default:
			return nil, false
		}

		value, exists := currentMap[key]
		if !exists {
			return nil, false
		}
		current = value
	}

	return current, true
}

// ============================================================================
// USAGE & COST
// ============================================================================

type Usage struct {
	InputTokens      int `json:"inputTokens"`
	OutputTokens     int `json:"outputTokens"`
	CacheWriteTokens int `json:"cacheWriteTokens,omitempty"`
	CacheReadTokens  int `json:"cacheReadTokens,omitempty"`
	TotalTokens      int `json:"totalTokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Cost is expressed in USD.
type Cost struct {
	InputCost      float64 `json:"inputCost"`
	OutputCost     float64 `json:"outputCost"`
	CacheWriteCost float64 `json:"cacheWriteCost"`
	CacheReadCost  float64 `json:"cacheReadCost"`
	TotalCost      float64 `json:"totalCost"`
}

func (c Cost) Add(o Cost) Cost {
	return Cost{
		InputCost:      c.InputCost + o.InputCost,
		OutputCost:     c.OutputCost + o.OutputCost,
		CacheWriteCost: c.CacheWriteCost + o.CacheWriteCost,
		CacheReadCost:  c.CacheReadCost + o.CacheReadCost,
		TotalCost:      c.TotalCost + o.TotalCost,
	}
}

// RateLimitStats tracks throttling and rate-limit retries applied to agent requests.
type RateLimitStats struct {
	ThrottleCount      int   `json:"throttleCount"`
	ThrottleWaitTimeMs int64 `json:"throttleWaitTimeMs"`
	RateLimitHits      int   `json:"rateLimitHits"`
	RetryCount         int   `json:"retryCount"`
	RetryWaitTimeMs    int64 `json:"retryWaitTimeMs"`
	RetrySuccessCount  int   `json:"retrySuccessCount"`
}

// ============================================================================
// RUN STATUS
// ============================================================================

// Status of a run or a step: pending -> running -> passed | failed | error.
// failed means the agent misbehaved; error means infrastructure broke.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
)

func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusError
}

type StepType string

const (
	StepChat   StepType = "chat"
	StepVerify StepType = "verify"
	StepWait   StepType = "wait"
	StepSetup  StepType = "setup"
)

// ============================================================================
// REPORTS
// ============================================================================

type StepReport struct {
	Index        int                `json:"index"`
	Type         StepType           `json:"type"`
	Label        string             `json:"label,omitempty"`
	Status       Status             `json:"status"`
	DurationMs   int64              `json:"durationMs"`
	ResponseText string             `json:"responseText,omitempty"`
	ToolCalls    []ToolCall         `json:"toolCalls,omitempty"`
	Assertions   []assertion.Result `json:"assertions,omitempty"`
	Error        string             `json:"error,omitempty"`
	Usage        *Usage             `json:"usage,omitempty"`
	Cost         *Cost              `json:"cost,omitempty"`
}

// FailedAssertions returns the assertions attached to the step that did not pass.
func (s StepReport) FailedAssertions() []assertion.Result {
	var failed []assertion.Result
	for _, a := range s.Assertions {
		if !a.Passed {
			failed = append(failed, a)
		}
	}
	return failed
}

type ScenarioReport struct {
	ScenarioID     string          `json:"scenarioId"`
	ScenarioName   string          `json:"scenarioName"`
	RunIndex       int             `json:"runIndex"`
	Status         Status          `json:"status"`
	Steps          []StepReport    `json:"steps"`
	StartedAt      time.Time       `json:"startedAt"`
	DurationMs     int64           `json:"durationMs"`
	Usage          *Usage          `json:"usage,omitempty"`
	Cost           *Cost           `json:"cost,omitempty"`
	Error          string          `json:"error,omitempty"`
	RateLimitStats *RateLimitStats `json:"rateLimitStats,omitempty"`
}

func (r *ScenarioReport) Passed() bool {
	return r != nil && r.Status == StatusPassed
}

// ScenarioInfo is what lifecycle hooks get to see about the scenario being run.
type ScenarioInfo struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

// ============================================================================
// UTILITY FUNCTIONS
// ============================================================================

// TruncateString shortens s to maxLen runes, appending "..." when cut.
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// ParseDuration parses a Go duration string, falling back when it is empty or invalid.
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}

	dur, err := time.ParseDuration(value)
	if err != nil {
		logger.Logger.Warn("Invalid duration, using default",
			"value", value,
			"default", fallback,
			"error", err)
		return fallback
	}

	if dur < 0 {
		logger.Logger.Warn("Negative duration, using 0", "value", dur)
		return 0
	}

	return dur
}
