// Package assertion holds the pass/fail primitive every check in the oracle produces.
package assertion

import (
	"fmt"
	"strings"
)

// Reason is a structured failure code. Consumers branch on it instead of parsing messages.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonToolCountMismatch    Reason = "TOOL_COUNT_MISMATCH"
	ReasonToolNotExpected      Reason = "TOOL_NOT_EXPECTED"
	ReasonToolInputMismatch    Reason = "TOOL_INPUT_MISMATCH"
	ReasonToolOutputMismatch   Reason = "TOOL_OUTPUT_MISMATCH"
	ReasonValueMismatch        Reason = "VALUE_MISMATCH"
	ReasonUnresolvedRef        Reason = "UNRESOLVED_REF"
	ReasonEntityNotFound       Reason = "ENTITY_NOT_FOUND"
	ReasonEntityUnexpected     Reason = "ENTITY_UNEXPECTED"
	ReasonEntityCountMismatch  Reason = "ENTITY_COUNT_MISMATCH"
	ReasonRelationshipMismatch Reason = "RELATIONSHIP_MISMATCH"
	ReasonInvalidAssertion     Reason = "INVALID_ASSERTION"
	ReasonTimeout              Reason = "TIMEOUT"
)

const allPassedMessage = "All assertions passed"

// Result is terminal: once produced it is only ever combined, never re-evaluated.
type Result struct {
	Passed   bool        `json:"passed"`
	Message  string      `json:"message"`
	Expected interface{} `json:"expected,omitempty"`
	Actual   interface{} `json:"actual,omitempty"`
	Path     string      `json:"path,omitempty"`
	Reason   Reason      `json:"reason,omitempty"`
	Failures []Result    `json:"failures,omitempty"`
}

// Empty is the identity of Combine.
var Empty = Result{Passed: true, Message: allPassedMessage}

func Pass(message string) Result {
	return Result{Passed: true, Message: message}
}

func Passf(format string, args ...interface{}) Result {
	return Pass(fmt.Sprintf(format, args...))
}

func Fail(message string, expected, actual interface{}) Result {
	return Result{Message: message, Expected: expected, Actual: actual, Reason: ReasonValueMismatch}
}

func FailWithReason(reason Reason, message string, expected, actual interface{}) Result {
	return Result{Message: message, Expected: expected, Actual: actual, Reason: reason}
}

// WithPath returns a copy tagged with the field path it was evaluated at.
func (r Result) WithPath(path string) Result {
	r.Path = path
	return r
}

// FailedLeaves flattens a result into its failing leaf results.
func (r Result) FailedLeaves() []Result {
	if r.Passed {
		return nil
	}
	if len(r.Failures) > 0 {
		out := make([]Result, len(r.Failures))
		copy(out, r.Failures)
		return out
	}
	return []Result{r}
}

// HasReason reports whether any failing leaf carries the given reason.
func (r Result) HasReason(reason Reason) bool {
	for _, leaf := range r.FailedLeaves() {
		if leaf.Reason == reason {
			return true
		}
	}
	return false
}

// Combine folds results with logical AND. Failures are flattened into leaves, so
// Combine(Combine(a, b), c) == Combine(a, Combine(b, c)); Combine() is Empty.
func Combine(results ...Result) Result {
	var leaves []Result
	for _, r := range results {
		leaves = append(leaves, r.FailedLeaves()...)
	}

	switch len(leaves) {
	case 0:
		return Empty
	case 1:
		leaf := leaves[0]
		return Result{
			Message:  leaf.Message,
			Expected: leaf.Expected,
			Actual:   leaf.Actual,
			Path:     leaf.Path,
			Reason:   leaf.Reason,
			Failures: leaves,
		}
	}

	messages := make([]string, 0, len(leaves))
	reason := leaves[0].Reason
	for _, leaf := range leaves {
		messages = append(messages, leaf.Message)
		if leaf.Reason != reason {
			reason = ReasonNone
		}
	}

	return Result{
		Message:  strings.Join(messages, "; "),
		Reason:   reason,
		Failures: leaves,
	}
}

// All reports whether every result passed.
func All(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
