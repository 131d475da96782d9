package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mykhaliev/agent-oracle/assertion"
	"github.com/mykhaliev/agent-oracle/entity"
	"github.com/mykhaliev/agent-oracle/logger"
	"github.com/mykhaliev/agent-oracle/matcher"
	"github.com/mykhaliev/agent-oracle/model"
	"github.com/mykhaliev/agent-oracle/pricing"
	"github.com/mykhaliev/agent-oracle/relationship"
	"github.com/mykhaliev/agent-oracle/templates"
	"github.com/mykhaliev/agent-oracle/toolcall"
	"github.com/mykhaliev/agent-oracle/wait"
)

var errNoStore = errors.New("no entity store configured")

type RunOptions struct {
	// StopOnFailure skips the remaining steps after the first step that did not pass.
	StopOnFailure bool
	RunIndex      int
}

// Executor runs scenarios. Everything it needs is injected; it keeps no state
// between runs apart from what Agent and Store hold.
type Executor struct {
	Agent    Agent
	Store    entity.Adapter
	Pricing  *pricing.Registry
	Patterns []relationship.Pattern
	// Wait supplies default timeout and interval for wait steps.
	Wait      wait.Options
	Variables map[string]string
	UserID    string
}

// RunScenario executes every step in order. Step failures and step errors are
// recorded in the report; the returned error is reserved for unusable input.
func (e *Executor) RunScenario(ctx context.Context, s *Scenario, opts RunOptions) (*model.ScenarioReport, error) {
	if s == nil {
		return nil, errors.New("scenario is nil")
	}
	if e.Agent == nil && hasStep(s, model.StepChat) {
		return nil, errors.New("scenario has chat steps but no agent is configured")
	}

	report := &model.ScenarioReport{
		ScenarioID:   s.ID,
		ScenarioName: s.Name,
		RunIndex:     opts.RunIndex,
		Status:       model.StatusPending,
		Steps:        make([]model.StepReport, 0, len(s.Steps)),
		StartedAt:    time.Now(),
	}

	if p, ok := e.Agent.(RateLimitStatsProvider); ok {
		p.ResetStats()
	}

	mctx := e.newContext(s)
	patterns := append(append([]relationship.Pattern{}, e.Patterns...), s.RelationshipPatterns...)

	report.Status = model.StatusRunning
	logger.Logger.Info("Scenario started", "scenario", s.Name, "run", opts.RunIndex+1, "steps", len(s.Steps))

	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			report.Error = err.Error()
			report.Status = model.StatusError
			break
		}

		sr := e.runStep(ctx, i, step, mctx, patterns)
		report.Steps = append(report.Steps, sr)

		if sr.Usage != nil {
			u := sr.Usage.Add(zeroUsage(report.Usage))
			report.Usage = &u
		}
		if sr.Cost != nil {
			c := sr.Cost.Add(zeroCost(report.Cost))
			report.Cost = &c
		}

		switch sr.Status {
		case model.StatusPassed:
			logger.Logger.Debug("Step passed", "step", sr.Label)
		case model.StatusFailed:
			logger.Logger.Info("Step failed", "step", sr.Label, "failures", len(sr.FailedAssertions()))
		case model.StatusError:
			logger.Logger.Warn("Step error", "step", sr.Label, "error", sr.Error)
		}

		if sr.Status != model.StatusPassed && opts.StopOnFailure {
			break
		}
	}

	if report.Status == model.StatusRunning {
		report.Status = finalStatus(report.Steps)
	}
	report.DurationMs = time.Since(report.StartedAt).Milliseconds()

	if p, ok := e.Agent.(RateLimitStatsProvider); ok {
		stats := p.Stats()
		report.RateLimitStats = &stats
	}

	if report.Status == model.StatusPassed {
		logger.Logger.Info("Scenario PASSED", "scenario", s.Name, "run", opts.RunIndex+1, "duration_ms", report.DurationMs)
	} else {
		logger.Logger.Info("Scenario FAILED", "scenario", s.Name, "run", opts.RunIndex+1, "status", report.Status)
	}
	return report, nil
}

func (e *Executor) newContext(s *Scenario) *matcher.Context {
	mctx := matcher.NewContext()
	mctx.UserID = e.UserID
	for k, v := range e.Variables {
		mctx.Vars[k] = v
	}
	for k, v := range s.Variables {
		mctx.Vars[k] = templates.RenderStrings(v, mctx.Vars)
	}
	return mctx
}

func (e *Executor) runStep(ctx context.Context, index int, step Step, mctx *matcher.Context, patterns []relationship.Pattern) model.StepReport {
	sr := model.StepReport{
		Index:  index,
		Type:   step.Type,
		Label:  step.DisplayLabel(index),
		Status: model.StatusRunning,
	}
	start := time.Now()

	var (
		results []assertion.Result
		err     error
	)
	switch step.Type {
	case model.StepChat:
		results, err = e.runChat(ctx, step, mctx, patterns, &sr)
	case model.StepVerify:
		results, err = e.runVerify(ctx, step, mctx)
	case model.StepWait:
		results, err = e.runWait(ctx, step, mctx)
	case model.StepSetup:
		results, err = e.runSetup(ctx, step, mctx)
	default:
		err = fmt.Errorf("%w %q", ErrUnknownStep, step.Type)
	}

	sr.DurationMs = time.Since(start).Milliseconds()
	sr.Assertions = results
	switch {
	case err != nil:
		sr.Status = model.StatusError
		sr.Error = err.Error()
	case assertion.All(results):
		sr.Status = model.StatusPassed
	default:
		sr.Status = model.StatusFailed
	}
	return sr
}

func (e *Executor) runChat(ctx context.Context, step Step, mctx *matcher.Context, patterns []relationship.Pattern, sr *model.StepReport) ([]assertion.Result, error) {
	prompt := templates.Render(step.Prompt, mctx.TemplateData())
	resp, err := e.Agent.Chat(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("agent chat failed: %w", err)
	}

	sr.ResponseText = resp.Text
	sr.ToolCalls = resp.ToolCalls
	if resp.Usage != nil {
		u := *resp.Usage
		if u.TotalTokens == 0 {
			u.TotalTokens = u.InputTokens + u.OutputTokens
		}
		sr.Usage = &u
		if cost, ok := e.Pricing.Cost(resp.Model, u); ok {
			sr.Cost = &cost
		} else if resp.Model != "" {
			logger.Logger.Debug("No pricing for model", "model", resp.Model)
		}
	}

	var results []assertion.Result
	if !step.Tools.Empty() {
		results = append(results, toolcall.AssertToolCalls(resp.ToolCalls, step.Tools, toolcall.Options{Context: mctx}))
	}
	if step.TotalToolCalls != nil {
		results = append(results, toolcall.AssertTotalToolCalls(resp.ToolCalls, *step.TotalToolCalls))
	}
	if len(step.Response) > 0 {
		r := matcher.MatchAll(resp.Text, step.Response, mctx)
		if !r.Passed {
			r.Message = "response: " + r.Message
		}
		results = append(results, r.WithPath("response"))
	}
	if step.ValidateRelationships {
		if e.Store == nil {
			return results, errNoStore
		}
		rels, err := relationship.ValidateRelationships(ctx, resp.Text, patterns, relationship.AdapterLookup(e.Store))
		if err != nil {
			return results, err
		}
		results = append(results, rels...)
	}
	if len(step.Created) > 0 {
		if e.Store == nil {
			return results, errNoStore
		}
		r, err := entity.AssertCreatedEntities(ctx, e.Store, step.Created, mctx)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (e *Executor) runVerify(ctx context.Context, step Step, mctx *matcher.Context) ([]assertion.Result, error) {
	if e.Store == nil {
		return nil, errNoStore
	}

	var results []assertion.Result
	if len(step.Entities) > 0 {
		r, err := entity.VerifyEntities(ctx, e.Store, step.Entities, mctx)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	for _, c := range step.Counts {
		r, err := entity.AssertEntityCount(ctx, e.Store, c.Type, c.Expected, c.Filters)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (e *Executor) runWait(ctx context.Context, step Step, mctx *matcher.Context) ([]assertion.Result, error) {
	if e.Store == nil {
		return nil, errNoStore
	}
	if step.Condition == nil {
		return nil, errors.New("wait step has no condition")
	}

	opts := wait.Options{
		Timeout:  model.ParseDuration(step.Timeout, e.Wait.Timeout),
		Interval: model.ParseDuration(step.Interval, e.Wait.Interval),
		OnPoll:   e.Wait.OnPoll,
	}
	return []assertion.Result{wait.Execute(ctx, *step.Condition, e.Store, mctx, opts)}, nil
}

func (e *Executor) runSetup(ctx context.Context, step Step, mctx *matcher.Context) ([]assertion.Result, error) {
	if e.Store == nil {
		return nil, errNoStore
	}

	results := make([]assertion.Result, 0, len(step.Insert))
	for _, ins := range step.Insert {
		row := model.EntityRow{}
		for k, v := range ins.Data {
			resolved, err := resolveSetupValue(v, mctx)
			if err != nil {
				return results, fmt.Errorf("insert %s.%s: %w", ins.Type, k, err)
			}
			row[k] = resolved
		}

		stored, err := e.Store.Insert(ctx, ins.Type, row)
		if err != nil {
			return results, err
		}
		mctx.Capture(ins.As, stored)
		results = append(results, assertion.Passf("Inserted %s %s", ins.Type, stored.ID()))
	}
	return results, nil
}

// resolveSetupValue renders templates, then resolves "$alias.field" strings against earlier captures.
func resolveSetupValue(v interface{}, mctx *matcher.Context) (interface{}, error) {
	rendered := templates.RenderValue(v, mctx.TemplateData())
	if s, ok := rendered.(string); ok {
		if ref, isRef := matcher.ParseRef(s); isRef {
			return mctx.Resolve(ref)
		}
	}
	return rendered, nil
}

func finalStatus(steps []model.StepReport) model.Status {
	status := model.StatusPassed
	for _, s := range steps {
		switch s.Status {
		case model.StatusError:
			return model.StatusError
		case model.StatusFailed:
			status = model.StatusFailed
		}
	}
	return status
}

func hasStep(s *Scenario, t model.StepType) bool {
	for _, step := range s.Steps {
		if step.Type == t {
			return true
		}
	}
	return false
}

func zeroUsage(u *model.Usage) model.Usage {
	if u == nil {
		return model.Usage{}
	}
	return *u
}

func zeroCost(c *model.Cost) model.Cost {
	if c == nil {
		return model.Cost{}
	}
	return *c
}
