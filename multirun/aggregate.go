package multirun

import (
	"regexp"
	"sort"
	"strings"

	"github.com/life4/genesis/slices"
	"github.com/mykhaliev/agent-oracle/assertion"
	"github.com/mykhaliev/agent-oracle/model"
)

const snippetLength = 200

// DefaultHallucinationKeywords are verbs an agent uses when claiming it did something.
var DefaultHallucinationKeywords = []string{
	"created", "deleted", "updated", "completed", "scheduled", "moved", "marked", "set",
	"changed", "done", "added", "removed", "assigned", "saved", "archived", "renamed",
}

var missingToolPattern = regexp.MustCompile(`^(\w+): expected`)

type FailureCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type AggregatedStepReport struct {
	StepIndex     int            `json:"stepIndex"`
	StepLabel     string         `json:"stepLabel,omitempty"`
	StepType      model.StepType `json:"stepType"`
	TotalRuns     int            `json:"totalRuns"`
	PassCount     int            `json:"passCount"`
	FailCount     int            `json:"failCount"`
	PassRate      float64        `json:"passRate"`
	IsFlaky       bool           `json:"isFlaky"`
	Failures      []FailureCount `json:"failures,omitempty"`
	DurationStats MetricStats    `json:"durationStats"`
}

type UsageStats struct {
	InputTokens  MetricStats `json:"inputTokens"`
	OutputTokens MetricStats `json:"outputTokens"`
	TotalTokens  MetricStats `json:"totalTokens"`
}

type CostStats struct {
	InputCost      MetricStats `json:"inputCost"`
	OutputCost     MetricStats `json:"outputCost"`
	CacheWriteCost MetricStats `json:"cacheWriteCost"`
	CacheReadCost  MetricStats `json:"cacheReadCost"`
	TotalCost      MetricStats `json:"totalCost"`
}

type HallucinationOccurrence struct {
	RunIndex             int      `json:"runIndex"`
	ResponseText         string   `json:"responseText"`
	FailedToolAssertions []string `json:"failedToolAssertions"`
	MissingToolCalls     []string `json:"missingToolCalls"`
}

type HallucinationAnalysis struct {
	StepIndex       int                       `json:"stepIndex"`
	StepLabel       string                    `json:"stepLabel,omitempty"`
	OccurrenceCount int                       `json:"occurrenceCount"`
	TotalRuns       int                       `json:"totalRuns"`
	Rate            float64                   `json:"rate"`
	Occurrences     []HallucinationOccurrence `json:"occurrences"`
}

type AggregatedScenarioReport struct {
	ScenarioID     string                  `json:"scenarioId"`
	ScenarioName   string                  `json:"scenarioName"`
	TotalRuns      int                     `json:"totalRuns"`
	PassedRuns     int                     `json:"passedRuns"`
	FailedRuns     int                     `json:"failedRuns"`
	ErrorRuns      int                     `json:"errorRuns"`
	PassRate       float64                 `json:"passRate"`
	IsFlaky        bool                    `json:"isFlaky"`
	Steps          []AggregatedStepReport  `json:"steps"`
	UsageStats     *UsageStats             `json:"usageStats,omitempty"`
	CostStats      *CostStats              `json:"costStats,omitempty"`
	DurationStats  MetricStats             `json:"durationStats"`
	Hallucinations []HallucinationAnalysis `json:"hallucinations"`
}

// Aggregate folds run reports into one report. keywords nil means
// DefaultHallucinationKeywords.
func Aggregate(scenarioID, scenarioName string, runs []model.ScenarioReport, keywords []string) *AggregatedScenarioReport {
	if keywords == nil {
		keywords = DefaultHallucinationKeywords
	}

	agg := &AggregatedScenarioReport{
		ScenarioID:     scenarioID,
		ScenarioName:   scenarioName,
		TotalRuns:      len(runs),
		Steps:          aggregateSteps(runs),
		UsageStats:     aggregateUsage(runs),
		CostStats:      aggregateCost(runs),
		Hallucinations: detectHallucinations(runs, keywords),
	}

	durations := make([]float64, 0, len(runs))
	for _, r := range runs {
		switch r.Status {
		case model.StatusPassed:
			agg.PassedRuns++
		case model.StatusError:
			agg.ErrorRuns++
		default:
			agg.FailedRuns++
		}
		durations = append(durations, float64(r.DurationMs))
	}
	agg.DurationStats = CalculateStats(durations)
	agg.PassRate = percent(agg.PassedRuns, agg.TotalRuns)
	agg.IsFlaky = IsFlaky(agg.PassedRuns, agg.TotalRuns-agg.PassedRuns)
	return agg
}

// IsFlaky needs both outcomes: a scenario that always fails is broken, not flaky.
func IsFlaky(passed, notPassed int) bool {
	return passed > 0 && notPassed > 0
}

// aggregateSteps aligns steps by index. Scenarios are a fixed sequence and a run can
// only be cut short, never reordered, so index i is the same step in every run that
// reached it. Conditional steps would break this and need alignment by step identity.
func aggregateSteps(runs []model.ScenarioReport) []AggregatedStepReport {
	maxSteps := 0
	for _, r := range runs {
		if len(r.Steps) > maxSteps {
			maxSteps = len(r.Steps)
		}
	}

	steps := make([]AggregatedStepReport, 0, maxSteps)
	for i := 0; i < maxSteps; i++ {
		step := AggregatedStepReport{StepIndex: i}
		failures := map[string]int{}
		var durations []float64

		for _, r := range runs {
			if i >= len(r.Steps) {
				continue
			}
			sr := r.Steps[i]
			if step.StepLabel == "" {
				step.StepLabel = sr.Label
				step.StepType = sr.Type
			}
			step.TotalRuns++
			durations = append(durations, float64(sr.DurationMs))

			if sr.Status == model.StatusPassed {
				step.PassCount++
				continue
			}
			step.FailCount++
			if sr.Error != "" {
				failures[sr.Error]++
			}
			for _, a := range sr.FailedAssertions() {
				failures[a.Message]++
			}
		}

		step.PassRate = percent(step.PassCount, step.TotalRuns)
		step.IsFlaky = IsFlaky(step.PassCount, step.FailCount)
		step.Failures = sortFailures(failures)
		step.DurationStats = CalculateStats(durations)
		steps = append(steps, step)
	}
	return steps
}

func sortFailures(counts map[string]int) []FailureCount {
	out := make([]FailureCount, 0, len(counts))
	for msg, n := range counts {
		out = append(out, FailureCount{Message: msg, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Message < out[j].Message
	})
	return out
}

func aggregateUsage(runs []model.ScenarioReport) *UsageStats {
	var in, out, total []float64
	for _, r := range runs {
		if r.Usage == nil {
			continue
		}
		in = append(in, float64(r.Usage.InputTokens))
		out = append(out, float64(r.Usage.OutputTokens))
		total = append(total, float64(r.Usage.TotalTokens))
	}
	if len(in) == 0 {
		return nil
	}
	return &UsageStats{
		InputTokens:  CalculateStats(in),
		OutputTokens: CalculateStats(out),
		TotalTokens:  CalculateStats(total),
	}
}

func aggregateCost(runs []model.ScenarioReport) *CostStats {
	var in, out, cw, cr, total []float64
	for _, r := range runs {
		if r.Cost == nil {
			continue
		}
		in = append(in, r.Cost.InputCost)
		out = append(out, r.Cost.OutputCost)
		cw = append(cw, r.Cost.CacheWriteCost)
		cr = append(cr, r.Cost.CacheReadCost)
		total = append(total, r.Cost.TotalCost)
	}
	if len(in) == 0 {
		return nil
	}
	return &CostStats{
		InputCost:      CalculateStats(in),
		OutputCost:     CalculateStats(out),
		CacheWriteCost: CalculateStats(cw),
		CacheReadCost:  CalculateStats(cr),
		TotalCost:      CalculateStats(total),
	}
}

// detectHallucinations flags chat steps whose response claims an action while a
// tool-count assertion on the same step failed.
func detectHallucinations(runs []model.ScenarioReport, keywords []string) []HallucinationAnalysis {
	lowered := slices.Map(keywords, strings.ToLower)

	byStep := map[int]*HallucinationAnalysis{}
	var order []int

	for _, r := range runs {
		for i, sr := range r.Steps {
			if sr.Type != model.StepChat || !mentionsAction(sr.ResponseText, lowered) {
				continue
			}
			failed := toolCountFailures(sr)
			if len(failed) == 0 {
				continue
			}

			h, ok := byStep[i]
			if !ok {
				h = &HallucinationAnalysis{StepIndex: i, StepLabel: sr.Label, TotalRuns: len(runs)}
				byStep[i] = h
				order = append(order, i)
			}
			h.Occurrences = append(h.Occurrences, HallucinationOccurrence{
				RunIndex:             r.RunIndex,
				ResponseText:         snippet(sr.ResponseText),
				FailedToolAssertions: failed,
				MissingToolCalls:     missingTools(failed),
			})
		}
	}

	out := make([]HallucinationAnalysis, 0, len(order))
	for _, i := range order {
		h := byStep[i]
		h.OccurrenceCount = len(h.Occurrences)
		h.Rate = percent(h.OccurrenceCount, h.TotalRuns)
		out = append(out, *h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rate > out[j].Rate })
	return out
}

func mentionsAction(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// toolCountFailures returns messages of failing leaves that report a tool-count
// mismatch. Leaves without a reason code (e.g. loaded from older exports) are
// recognized by their message instead.
func toolCountFailures(sr model.StepReport) []string {
	var msgs []string
	for _, a := range sr.FailedAssertions() {
		for _, leaf := range a.FailedLeaves() {
			if isToolCountFailure(leaf) {
				msgs = append(msgs, leaf.Message)
			}
		}
	}
	return msgs
}

func isToolCountFailure(r assertion.Result) bool {
	if r.Reason == assertion.ReasonToolCountMismatch {
		return true
	}
	if r.Reason != assertion.ReasonNone {
		return false
	}
	msg := strings.ToLower(r.Message)
	return strings.Contains(msg, "expected") && strings.Contains(msg, "call")
}

func missingTools(messages []string) []string {
	var names []string
	for _, msg := range messages {
		m := missingToolPattern.FindStringSubmatch(msg)
		if m == nil || slices.Contains(names, m[1]) {
			continue
		}
		names = append(names, m[1])
	}
	return names
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLength {
		return text
	}
	return string(runes[:snippetLength])
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
