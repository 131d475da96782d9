// Package toolcall checks the tool invocations an agent emitted during a step.
package toolcall

import (
	"fmt"
	"sort"
	"strings"

	"github.com/life4/genesis/slices"
	"github.com/mykhaliev/agent-oracle/assertion"
	"github.com/mykhaliev/agent-oracle/logger"
	"github.com/mykhaliev/agent-oracle/matcher"
	"github.com/mykhaliev/agent-oracle/model"
	"github.com/yalp/jsonpath"
)

// ToolAssertion is one entry of the full grammar.
type ToolAssertion struct {
	Name      string           `yaml:"name" json:"name"`
	NotCalled bool             `yaml:"notCalled,omitempty" json:"notCalled,omitempty"`
	Count     *model.CountSpec `yaml:"count,omitempty" json:"count,omitempty"`
	Input     matcher.Fields   `yaml:"input,omitempty" json:"-"`
	Output    matcher.Fields   `yaml:"output,omitempty" json:"-"`
}

// Assertions holds either the simple grammar ({tool: count | {min, max}}) or the full
// grammar (a list of ToolAssertion). Full wins when both are set.
type Assertions struct {
	Simple map[string]model.CountSpec
	Full   []ToolAssertion
}

func (a Assertions) Empty() bool {
	return len(a.Simple) == 0 && len(a.Full) == 0
}

type Options struct {
	// Context resolves refs and templates inside input/output matchers.
	Context *matcher.Context
}

// AssertToolCalls evaluates every assertion and combines the results.
func AssertToolCalls(calls []model.ToolCall, assertions Assertions, opts Options) assertion.Result {
	if len(assertions.Full) > 0 {
		results := make([]assertion.Result, 0, len(assertions.Full))
		for _, ta := range assertions.Full {
			results = append(results, assertTool(calls, ta, opts))
		}
		return assertion.Combine(results...)
	}

	counts := countByName(calls)
	names := make([]string, 0, len(assertions.Simple))
	for name := range assertions.Simple {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]assertion.Result, 0, len(names))
	for _, name := range names {
		results = append(results, checkCount(name, counts[name], assertions.Simple[name]))
	}
	return assertion.Combine(results...)
}

// CountToolCalls returns the number of tool calls across all tools.
func CountToolCalls(calls []model.ToolCall) int {
	return len(calls)
}

// AssertTotalToolCalls checks the aggregate number of calls regardless of tool name.
func AssertTotalToolCalls(calls []model.ToolCall, expected model.CountSpec) assertion.Result {
	return checkCount("total", CountToolCalls(calls), expected)
}

func countByName(calls []model.ToolCall) map[string]int {
	counts := map[string]int{}
	for _, c := range calls {
		counts[c.Name]++
	}
	return counts
}

func assertTool(calls []model.ToolCall, ta ToolAssertion, opts Options) assertion.Result {
	matching := slices.Filter(calls, func(c model.ToolCall) bool {
		return c.Name == ta.Name
	})
	count := len(matching)

	if ta.NotCalled {
		if count == 0 {
			return assertion.Passf("%s: not called", ta.Name)
		}
		return assertion.FailWithReason(assertion.ReasonToolNotExpected,
			fmt.Sprintf("%s: expected no calls, got %d", ta.Name, count), 0, count)
	}

	var results []assertion.Result
	if ta.Count != nil {
		results = append(results, checkCount(ta.Name, count, *ta.Count))
	}

	if count == 0 {
		if len(ta.Input) > 0 || len(ta.Output) > 0 {
			results = append(results, assertion.FailWithReason(assertion.ReasonToolCountMismatch,
				fmt.Sprintf("%s: expected at least 1 call(s) to check input/output, got 0", ta.Name), 1, 0))
		}
		return assertion.Combine(results...)
	}

	if len(ta.Input) > 0 {
		results = append(results, checkEveryCall(ta.Name, matching, ta.Input, opts.Context, "input",
			assertion.ReasonToolInputMismatch, func(c model.ToolCall) (map[string]interface{}, string) {
				if c.Args == nil {
					return map[string]interface{}{}, ""
				}
				return c.Args, ""
			}))
	}

	if len(ta.Output) > 0 {
		results = append(results, checkEveryCall(ta.Name, matching, ta.Output, opts.Context, "output",
			assertion.ReasonToolOutputMismatch, resultObject))
	}

	return assertion.Combine(results...)
}

func resultObject(c model.ToolCall) (map[string]interface{}, string) {
	switch r := c.Result.(type) {
	case nil:
		return nil, "has no result"
	case map[string]interface{}:
		return r, ""
	case model.EntityRow:
		return r, ""
	default:
		return nil, fmt.Sprintf("result is not an object (%T)", c.Result)
	}
}

// checkEveryCall requires the fields to hold for ALL matching calls; one bad call fails.
func checkEveryCall(
	name string,
	calls []model.ToolCall,
	fields matcher.Fields,
	ctx *matcher.Context,
	what string,
	reason assertion.Reason,
	extract func(model.ToolCall) (map[string]interface{}, string),
) assertion.Result {
	var violations []string
	var leaves []assertion.Result

	for i, call := range calls {
		data, problem := extract(call)
		if problem != "" {
			violations = append(violations, fmt.Sprintf("call #%d %s", i+1, problem))
			continue
		}

		r := matcher.MatchFieldsWith(data, fields, ctx, lookup)
		if !r.Passed {
			violations = append(violations, fmt.Sprintf("call #%d %s", i+1, r.Message))
			leaves = append(leaves, r.FailedLeaves()...)
		}
	}

	if len(violations) == 0 {
		return assertion.Passf("%s: %s matched in all %d call(s)", name, what, len(calls))
	}

	logger.Logger.Debug("Tool call mismatch", "tool", name, "kind", what, "violations", violations)

	var expected, actual interface{}
	if len(leaves) > 0 {
		expected, actual = leaves[0].Expected, leaves[0].Actual
	}
	return assertion.FailWithReason(reason,
		fmt.Sprintf("%s: %s mismatch in %d of %d call(s): %s", name, what, len(violations), len(calls),
			strings.Join(violations, "; ")),
		expected, actual)
}

// lookup resolves "$..." keys as JSONPath and everything else as dot paths.
func lookup(data map[string]interface{}, key string) (interface{}, bool) {
	if strings.HasPrefix(key, "$") {
		res, err := jsonpath.Read(data, key)
		if err != nil {
			logger.Logger.Debug("JSONPath did not resolve", "path", key, "error", err)
			return nil, false
		}
		return res, true
	}
	return model.GetNestedValue(data, key)
}
