// Package wait polls the store until an entity or count predicate holds.
package wait

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
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultInterval = 1 * time.Second
)

// CountCondition holds once the number of matching rows satisfies Expected.
type CountCondition struct {
	Type     string          `yaml:"type"`
	Filters  entity.Filters  `yaml:"filters,omitempty"`
	Expected model.CountSpec `yaml:"count"`
}

// Condition is either an entity check or a count check.
type Condition struct {
	Entity *entity.Verification `yaml:"entity,omitempty"`
	Count  *CountCondition      `yaml:"count,omitempty"`
}

func (c Condition) String() string {
	switch {
	case c.Entity != nil && c.Entity.NotExists:
		return fmt.Sprintf("%s %v to not exist", c.Entity.Type, identifier(c.Entity))
	case c.Entity != nil:
		return fmt.Sprintf("%s %v to exist with %d field check(s)", c.Entity.Type, identifier(c.Entity), len(c.Entity.Fields))
	case c.Count != nil:
		return fmt.Sprintf("%s count %s", c.Count.Type, c.Count.Expected)
	default:
		return "empty condition"
	}
}

func identifier(v *entity.Verification) interface{} {
	if v.ID != nil {
		return v.ID
	}
	return v.Title
}

type Options struct {
	Timeout  time.Duration
	Interval time.Duration
	// OnPoll is called once per attempt, starting at 1.
	OnPoll func(attempt int)
}

// Execute evaluates cond every Interval until it holds or Timeout elapses.
// It never returns an error: a timeout is a failing result describing the unmet condition.
func Execute(ctx context.Context, cond Condition, a entity.Adapter, mctx *matcher.Context, opts Options) assertion.Result {
	if cond.Entity == nil && cond.Count == nil {
		return assertion.FailWithReason(assertion.ReasonInvalidAssertion,
			"wait condition needs an entity or a count", nil, nil)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Burst of 1: the first attempt runs immediately, later ones are spaced by interval.
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	started := time.Now()

	var (
		attempt int
		last    assertion.Result
		lastErr error
	)
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			break
		}
		attempt++
		if opts.OnPoll != nil {
			opts.OnPoll(attempt)
		}

		r, err := evaluate(waitCtx, cond, a, mctx)
		if err != nil {
			lastErr = err
			logger.Logger.Debug("Wait condition check failed", "attempt", attempt, "error", err)
			continue
		}
		last = r
		if r.Passed {
			logger.Logger.Debug("Wait condition met", "condition", cond.String(), "attempts", attempt)
			return assertion.Passf("Condition met after %d attempt(s): %s", attempt, cond)
		}
		logger.Logger.Debug("Wait condition not met yet", "attempt", attempt, "reason", r.Message)
	}

	elapsed := time.Since(started).Round(time.Millisecond)
	msg := fmt.Sprintf("Timed out after %s (%d attempt(s)) waiting for %s", elapsed, attempt, cond)
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = fmt.Sprintf("Wait cancelled after %d attempt(s) waiting for %s", attempt, cond)
	}
	switch {
	case last.Message != "":
		msg += "; last result: " + last.Message
	case lastErr != nil:
		msg += "; last error: " + lastErr.Error()
	}

	return assertion.FailWithReason(assertion.ReasonTimeout, msg, cond.String(), last.Actual)
}

func evaluate(ctx context.Context, cond Condition, a entity.Adapter, mctx *matcher.Context) (assertion.Result, error) {
	results := make([]assertion.Result, 0, 2)
	if cond.Entity != nil {
		r, err := entity.VerifyEntities(ctx, a, []entity.Verification{*cond.Entity}, mctx)
		if err != nil {
			return assertion.Result{}, err
		}
		results = append(results, r)
	}
	if cond.Count != nil {
		r, err := entity.AssertEntityCount(ctx, a, cond.Count.Type, cond.Count.Expected, cond.Count.Filters)
		if err != nil {
			return assertion.Result{}, err
		}
		results = append(results, r)
	}
	return assertion.Combine(results...), nil
}
