// Package scenario runs one scenario against an agent and a store, producing a
// model.ScenarioReport per run.
package scenario

import (
	"errors"
	"fmt"
	"os"

	"github.com/mykhaliev/agent-oracle/entity"
	"github.com/mykhaliev/agent-oracle/matcher"
	"github.com/mykhaliev/agent-oracle/model"
	"github.com/mykhaliev/agent-oracle/relationship"
	"github.com/mykhaliev/agent-oracle/toolcall"
	"github.com/mykhaliev/agent-oracle/wait"
	"gopkg.in/yaml.v3"
)

// ErrUnknownStep is returned for a step whose type is not chat, verify, wait or setup.
var ErrUnknownStep = errors.New("unknown step type")

// Scenario is an ordered list of steps. Steps never branch, so a step index
// denotes the same logical step in every run.
type Scenario struct {
	ID                   string                 `yaml:"id" json:"id"`
	Name                 string                 `yaml:"name" json:"name"`
	Description          string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Tags                 []string               `yaml:"tags,omitempty" json:"tags,omitempty"`
	Variables            map[string]string      `yaml:"variables,omitempty" json:"variables,omitempty"`
	RelationshipPatterns []relationship.Pattern `yaml:"relationshipPatterns,omitempty" json:"relationshipPatterns,omitempty"`
	Steps                []Step                 `yaml:"steps" json:"steps"`
}

func (s *Scenario) Info() model.ScenarioInfo {
	return model.ScenarioInfo{ID: s.ID, Name: s.Name, Tags: s.Tags}
}

// Step is one of four kinds; only the fields for its Type are read.
type Step struct {
	Type  model.StepType `yaml:"type" json:"type"`
	Label string         `yaml:"label,omitempty" json:"label,omitempty"`

	// chat
	Prompt                string                    `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Tools                 toolcall.Assertions       `yaml:"tools,omitempty" json:"-"`
	TotalToolCalls        *model.CountSpec          `yaml:"totalToolCalls,omitempty" json:"-"`
	Response              matcher.List              `yaml:"response,omitempty" json:"-"`
	ValidateRelationships bool                      `yaml:"validateRelationships,omitempty" json:"-"`
	Created               []entity.CreatedAssertion `yaml:"created,omitempty" json:"-"`

	// verify
	Entities []entity.Verification `yaml:"entities,omitempty" json:"-"`
	Counts   []wait.CountCondition `yaml:"counts,omitempty" json:"-"`

	// wait
	Condition *wait.Condition `yaml:"condition,omitempty" json:"-"`
	Timeout   string          `yaml:"timeout,omitempty" json:"-"`
	Interval  string          `yaml:"interval,omitempty" json:"-"`

	// setup
	Insert []Insert `yaml:"insert,omitempty" json:"-"`
}

// Insert seeds one row during a setup step. String values may be templates or refs.
type Insert struct {
	Type string                 `yaml:"type"`
	As   string                 `yaml:"as,omitempty"`
	Data map[string]interface{} `yaml:"data"`
}

// DisplayLabel is the label, or "<type> #<n>" when none was given.
func (s Step) DisplayLabel(index int) string {
	if s.Label != "" {
		return s.Label
	}
	return fmt.Sprintf("%s #%d", s.Type, index+1)
}

// Validate reports structural problems that would make every run error out.
func (s *Scenario) Validate() error {
	var errs []error
	if s.Name == "" && s.ID == "" {
		errs = append(errs, errors.New("scenario needs an id or a name"))
	}
	if len(s.Steps) == 0 {
		errs = append(errs, fmt.Errorf("scenario %q has no steps", s.Name))
	}
	for i, step := range s.Steps {
		switch step.Type {
		case model.StepChat:
			if step.Prompt == "" {
				errs = append(errs, fmt.Errorf("step %d: chat step needs a prompt", i+1))
			}
		case model.StepVerify:
			if len(step.Entities) == 0 && len(step.Counts) == 0 {
				errs = append(errs, fmt.Errorf("step %d: verify step needs entities or counts", i+1))
			}
		case model.StepWait:
			if step.Condition == nil {
				errs = append(errs, fmt.Errorf("step %d: wait step needs a condition", i+1))
			}
		case model.StepSetup:
			if len(step.Insert) == 0 {
				errs = append(errs, fmt.Errorf("step %d: setup step needs insert rows", i+1))
			}
		default:
			errs = append(errs, fmt.Errorf("step %d: %w %q", i+1, ErrUnknownStep, step.Type))
		}
	}
	return errors.Join(errs...)
}

// Load reads and validates a scenario from a YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML scenario: %w", err)
	}
	if s.ID == "" {
		s.ID = s.Name
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
