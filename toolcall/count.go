package toolcall

import (
	"fmt"

	"github.com/mykhaliev/agent-oracle/assertion"
	"github.com/mykhaliev/agent-oracle/model"
	"gopkg.in/yaml.v3"
)

// checkCount validates actual against spec. Exact counts must match precisely;
// min and max are checked independently.
func checkCount(name string, actual int, spec model.CountSpec) assertion.Result {
	if spec.Exact != nil {
		if actual != *spec.Exact {
			return assertion.FailWithReason(assertion.ReasonToolCountMismatch,
				fmt.Sprintf("%s: expected %d call(s), got %d", name, *spec.Exact, actual), *spec.Exact, actual)
		}
		return assertion.Passf("%s: called %d time(s)", name, actual)
	}

	var results []assertion.Result
	if spec.Min != nil && actual < *spec.Min {
		results = append(results, assertion.FailWithReason(assertion.ReasonToolCountMismatch,
			fmt.Sprintf("%s: expected at least %d call(s), got %d", name, *spec.Min, actual), spec.String(), actual))
	}
	if spec.Max != nil && actual > *spec.Max {
		results = append(results, assertion.FailWithReason(assertion.ReasonToolCountMismatch,
			fmt.Sprintf("%s: expected at most %d call(s), got %d", name, *spec.Max, actual), spec.String(), actual))
	}
	if len(results) == 0 {
		return assertion.Passf("%s: called %d time(s), within %s", name, actual, spec)
	}
	return assertion.Combine(results...)
}

func (a *Assertions) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var full []ToolAssertion
		if err := node.Decode(&full); err != nil {
			return fmt.Errorf("failed to decode tool assertions: %w", err)
		}
		*a = Assertions{Full: full}
	case yaml.MappingNode:
		var simple map[string]model.CountSpec
		if err := node.Decode(&simple); err != nil {
			return fmt.Errorf("failed to decode tool counts: %w", err)
		}
		*a = Assertions{Simple: simple}
	default:
		return fmt.Errorf("tool assertions must be a map or a list, got %q", node.Value)
	}
	return nil
}
