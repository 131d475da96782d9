// Package multirun repeats a scenario N times and folds the run reports into
// pass-rate, flakiness, usage, cost, duration and hallucination statistics.
package multirun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/mykhaliev/agent-oracle/logger"
	"github.com/mykhaliev/agent-oracle/model"
	"github.com/mykhaliev/agent-oracle/scenario"
)

// Runner executes one run of a scenario.
type Runner interface {
	RunScenario(ctx context.Context, s *scenario.Scenario, opts scenario.RunOptions) (*model.ScenarioReport, error)
}

type Hooks struct {
	// BeforeEach runs before every run; it is where callers reset shared state.
	BeforeEach func(ctx context.Context, info model.ScenarioInfo) error
}

type Options struct {
	Runs int
	// ContinueOnFailure defaults to true when nil.
	ContinueOnFailure     *bool
	Hooks                 Hooks
	HallucinationKeywords []string
}

type MultiRunResult struct {
	RunID            string                    `json:"runId"`
	Success          bool                      `json:"success"`
	AggregatedReport *AggregatedScenarioReport `json:"aggregatedReport"`
	Runs             []model.ScenarioReport    `json:"runs"`
	StartedAt        time.Time                 `json:"startedAt"`
	EndedAt          time.Time                 `json:"endedAt"`
	TotalDurationMs  int64                     `json:"totalDurationMs"`
}

// Execute runs the scenario sequentially. Every run gets StopOnFailure. A runner or
// hook error is recorded as an error run, never returned. With ContinueOnFailure
// false the loop stops after the first run that did not pass; the runs that never
// happened are simply absent. Cancelling ctx stops future runs only.
func Execute(ctx context.Context, runner Runner, s *scenario.Scenario, opts Options) (*MultiRunResult, error) {
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if s == nil {
		return nil, errors.New("scenario is nil")
	}

	runs := opts.Runs
	if runs <= 0 {
		runs = 1
	}
	continueOnFailure := opts.ContinueOnFailure == nil || *opts.ContinueOnFailure

	started := time.Now()
	reports := make([]model.ScenarioReport, 0, runs)

	logger.Logger.Info("Multi-run started", "scenario", s.Name, "runs", runs, "continue_on_failure", continueOnFailure)

	for i := 0; i < runs; i++ {
		if err := ctx.Err(); err != nil {
			logger.Logger.Warn("Multi-run cancelled", "completed_runs", len(reports), "error", err)
			break
		}

		report := runOnce(ctx, runner, s, opts.Hooks, i)
		reports = append(reports, *report)
		logger.Logger.Info("Run finished", "run", i+1, "of", runs, "status", report.Status, "duration_ms", report.DurationMs)

		if !continueOnFailure && !report.Passed() {
			logger.Logger.Info("Stopping after failed run", "run", i+1, "skipped_runs", runs-i-1)
			break
		}
	}

	ended := time.Now()
	agg := Aggregate(s.ID, s.Name, reports, opts.HallucinationKeywords)

	result := &MultiRunResult{
		RunID:            uuid.NewString(),
		Success:          agg.PassRate == 100,
		AggregatedReport: agg,
		Runs:             reports,
		StartedAt:        started,
		EndedAt:          ended,
		TotalDurationMs:  ended.Sub(started).Milliseconds(),
	}

	logger.Logger.Info("Multi-run finished",
		"scenario", s.Name,
		"pass_rate", fmt.Sprintf("%.1f%%", agg.PassRate),
		"flaky", agg.IsFlaky,
		"hallucinations", len(agg.Hallucinations))
	return result, nil
}

func runOnce(ctx context.Context, runner Runner, s *scenario.Scenario, hooks Hooks, index int) *model.ScenarioReport {
	start := time.Now()
	errorReport := func(err error) *model.ScenarioReport {
		return &model.ScenarioReport{
			ScenarioID:   s.ID,
			ScenarioName: s.Name,
			RunIndex:     index,
			Status:       model.StatusError,
			StartedAt:    start,
			DurationMs:   time.Since(start).Milliseconds(),
			Error:        err.Error(),
		}
	}

	if hooks.BeforeEach != nil {
		if err := hooks.BeforeEach(ctx, s.Info()); err != nil {
			logger.Logger.Error("beforeEach hook failed", "run", index+1, "error", err)
			return errorReport(fmt.Errorf("beforeEach hook failed: %w", err))
		}
	}

	report, err := runner.RunScenario(ctx, s, scenario.RunOptions{StopOnFailure: true, RunIndex: index})
	if err != nil {
		logger.Logger.Error("Run failed with error", "run", index+1, "error", err)
		return errorReport(err)
	}
	if report == nil {
		return errorReport(errors.New("runner returned no report"))
	}
	report.RunIndex = index
	return report
}

// JSON encodes the result with indentation. Times are RFC 3339.
func (r *MultiRunResult) JSON() ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(r, "", "  ")
}

func (r *MultiRunResult) WriteJSON(path string) error {
	data, err := r.JSON()
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, logger.DirPermission); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, logger.FilePermission); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// LoadResult reads a result previously written by WriteJSON.
func LoadResult(path string) (*MultiRunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var r MultiRunResult
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse result %s: %w", path, err)
	}
	return &r, nil
}
