package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// CountSpec is either an exact count or an inclusive {min, max} range.
// In YAML it is written as `3` or `{min: 1, max: 5}`.
type CountSpec struct {
	Exact *int `yaml:"-" json:"exact,omitempty"`
	Min   *int `yaml:"min,omitempty" json:"min,omitempty"`
	Max   *int `yaml:"max,omitempty" json:"max,omitempty"`
}

func Exactly(n int) CountSpec {
	return CountSpec{Exact: &n}
}

func AtLeast(n int) CountSpec {
	return CountSpec{Min: &n}
}

func AtMost(n int) CountSpec {
	return CountSpec{Max: &n}
}

func Between(min, max int) CountSpec {
	return CountSpec{Min: &min, Max: &max}
}

func (c CountSpec) String() string {
	switch {
	case c.Exact != nil:
		return fmt.Sprintf("%d", *c.Exact)
	case c.Min != nil && c.Max != nil:
		return fmt.Sprintf("%d..%d", *c.Min, *c.Max)
	case c.Min != nil:
		return fmt.Sprintf(">= %d", *c.Min)
	case c.Max != nil:
		return fmt.Sprintf("<= %d", *c.Max)
	default:
		return "any"
	}
}

// Satisfied reports whether n meets the spec.
func (c CountSpec) Satisfied(n int) bool {
	if c.Exact != nil {
		return n == *c.Exact
	}
	if c.Min != nil && n < *c.Min {
		return false
	}
	if c.Max != nil && n > *c.Max {
		return false
	}
	return true
}

func (c *CountSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var n int
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("count must be an integer or {min, max}: %w", err)
		}
		*c = Exactly(n)
		return nil
	}

	var r struct {
		Min *int `yaml:"min"`
		Max *int `yaml:"max"`
	}
	if err := node.Decode(&r); err != nil {
		return fmt.Errorf("count must be an integer or {min, max}: %w", err)
	}
	*c = CountSpec{Min: r.Min, Max: r.Max}
	return nil
}
