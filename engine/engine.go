// Package engine wires a run configuration into the oracle: it opens the entity
// store, builds the agent, repeats the scenario and exports the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mykhaliev/agent-oracle/logger"
	"github.com/mykhaliev/agent-oracle/model"
	"github.com/mykhaliev/agent-oracle/multirun"
	"github.com/mykhaliev/agent-oracle/pricing"
	"github.com/mykhaliev/agent-oracle/relationship"
	"github.com/mykhaliev/agent-oracle/scenario"
	"github.com/mykhaliev/agent-oracle/sqlstore"
	"github.com/mykhaliev/agent-oracle/templates"
	"github.com/mykhaliev/agent-oracle/wait"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRuns     = 1
	DefaultDatabase = ":memory:"
)

// Config is the YAML run configuration. Relative paths resolve against the
// directory holding the config file.
type Config struct {
	Scenario string `yaml:"scenario"`
	// Replay points at a recorded agent transcript (JSON).
	Replay   string                       `yaml:"replay,omitempty"`
	Database string                       `yaml:"database,omitempty"`
	Fixtures map[string][]model.EntityRow `yaml:"fixtures,omitempty"`
	Pricing  map[string]pricing.Rates     `yaml:"pricing,omitempty"`

	RateLimit             scenario.RateLimitConfig `yaml:"rateLimit,omitempty"`
	Runs                  int                      `yaml:"runs,omitempty"`
	ContinueOnFailure     *bool                    `yaml:"continueOnFailure,omitempty"`
	RelationshipPatterns  []relationship.Pattern   `yaml:"relationshipPatterns,omitempty"`
	Wait                  WaitConfig               `yaml:"wait,omitempty"`
	Variables             map[string]string        `yaml:"variables,omitempty"`
	UserID                string                   `yaml:"userId,omitempty"`
	HallucinationKeywords []string                 `yaml:"hallucinationKeywords,omitempty"`

	// dir is where the config was loaded from.
	dir string
}

type WaitConfig struct {
	Timeout  string `yaml:"timeout,omitempty"`
	Interval string `yaml:"interval,omitempty"`
}

// ParseConfig reads a run configuration from a YAML file.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		cfg.dir = filepath.Dir(abs)
	}
	return &cfg, nil
}

func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if cfg.Scenario == "" {
		return fmt.Errorf("no scenario configured")
	}
	if cfg.Runs < 0 {
		return fmt.Errorf("runs must not be negative, got %d", cfg.Runs)
	}
	if cfg.RateLimit.MaxRetries < 0 {
		return fmt.Errorf("rateLimit.maxRetries must not be negative, got %d", cfg.RateLimit.MaxRetries)
	}
	return nil
}

func ValidateInputFile(path string) error {
	if path == "" {
		return fmt.Errorf("input file path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", path)
		}
		return fmt.Errorf("cannot access file %s: %w", path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", path)
	}

	if info.Size() == 0 {
		return fmt.Errorf("file is empty: %s", path)
	}

	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".yml" {
		logger.Logger.Warn("Unexpected file extension", "extension", ext, "expected", ".yaml, .yml")
		return fmt.Errorf("unexpected file extension: %s", ext)
	}

	return nil
}

// Options controls a single invocation of Run.
type Options struct {
	// OutputPath receives the JSON result; empty skips the export.
	OutputPath string
	// Agent overrides the replay agent from the config.
	Agent scenario.Agent
}

// Run executes the configured scenario and exports the result.
func Run(ctx context.Context, cfg *Config, opts Options) (*multirun.MultiRunResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	logger.Logger.Info("Loading scenario", "path", cfg.resolve(cfg.Scenario))
	sc, err := scenario.Load(cfg.resolve(cfg.Scenario))
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario: %w", err)
	}

	agent, err := buildAgent(cfg, opts.Agent)
	if err != nil {
		return nil, err
	}

	dsn := cfg.Database
	if dsn == "" {
		dsn = DefaultDatabase
	}
	store, err := sqlstore.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open entity store: %w", err)
	}
	defer store.Close()

	vars := CreateTemplateContext(cfg.dir, cfg.Variables)
	exec := &scenario.Executor{
		Agent:    agent,
		Store:    store,
		Pricing:  pricing.FromMap(cfg.Pricing),
		Patterns: cfg.RelationshipPatterns,
		Wait: wait.Options{
			Timeout:  model.ParseDuration(cfg.Wait.Timeout, wait.DefaultTimeout),
			Interval: model.ParseDuration(cfg.Wait.Interval, wait.DefaultInterval),
		},
		Variables: vars,
		UserID:    templates.RenderStrings(cfg.UserID, vars),
	}

	runs := cfg.Runs
	if runs == 0 {
		runs = DefaultRuns
	}

	result, err := multirun.Execute(ctx, exec, sc, multirun.Options{
		Runs:                  runs,
		ContinueOnFailure:     cfg.ContinueOnFailure,
		HallucinationKeywords: cfg.HallucinationKeywords,
		Hooks: multirun.Hooks{
			BeforeEach: func(ctx context.Context, info model.ScenarioInfo) error {
				if err := store.Reset(ctx); err != nil {
					return fmt.Errorf("failed to reset entity store: %w", err)
				}
				if err := store.Seed(ctx, cfg.Fixtures); err != nil {
					return fmt.Errorf("failed to seed fixtures: %w", err)
				}
				if r, ok := agent.(interface{ Reset() }); ok {
					r.Reset()
				}
				logger.Logger.Debug("Run state reset", "scenario", info.ID, "fixture_types", len(cfg.Fixtures))
				return nil
			},
		},
	})
	if err != nil {
		return nil, err
	}

	if opts.OutputPath != "" {
		if err := result.WriteJSON(opts.OutputPath); err != nil {
			return result, err
		}
		logger.Logger.Info("Result written", "path", opts.OutputPath)
	}
	return result, nil
}

func buildAgent(cfg *Config, override scenario.Agent) (scenario.Agent, error) {
	agent := override
	if agent == nil && cfg.Replay != "" {
		replay, err := scenario.LoadReplayAgent(cfg.resolve(cfg.Replay))
		if err != nil {
			return nil, fmt.Errorf("failed to load replay: %w", err)
		}
		agent = replay
	}
	if agent == nil {
		return nil, nil
	}
	if cfg.RateLimit.Enabled() {
		return scenario.NewRateLimitedAgent(agent, cfg.RateLimit), nil
	}
	return agent, nil
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// CreateTemplateContext builds the variables scenarios can interpolate: the
// environment, RUN_ID, TEMP_DIR, CONFIG_DIR and the configured variables, which
// may themselves reference any of the former.
func CreateTemplateContext(configDir string, variables map[string]string) map[string]string {
	ctx := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			ctx[k] = v
		}
	}
	ctx["RUN_ID"] = uuid.NewString()
	ctx["TEMP_DIR"] = os.TempDir()
	if configDir != "" {
		ctx["CONFIG_DIR"] = configDir
	}

	names := make([]string, 0, len(variables))
	for k := range variables {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		ctx[k] = templates.RenderStrings(variables[k], ctx)
	}
	return ctx
}

// Aggregate merges previously exported results of the same scenario into one.
// Runs are renumbered in file order.
func Aggregate(paths []string, keywords []string) (*multirun.MultiRunResult, error) {
	if len(paths) == 0 {
		return nil, errors.New("no result files given")
	}

	var (
		runs           []model.ScenarioReport
		id, name       string
		started, ended time.Time
	)
	for _, p := range paths {
		r, err := multirun.LoadResult(p)
		if err != nil {
			return nil, err
		}
		if r.AggregatedReport == nil {
			return nil, fmt.Errorf("%s: missing aggregated report", p)
		}
		if id == "" {
			id, name = r.AggregatedReport.ScenarioID, r.AggregatedReport.ScenarioName
		} else if r.AggregatedReport.ScenarioID != id {
			return nil, fmt.Errorf("%s: scenario %q does not match %q", p, r.AggregatedReport.ScenarioID, id)
		}
		if started.IsZero() || r.StartedAt.Before(started) {
			started = r.StartedAt
		}
		if r.EndedAt.After(ended) {
			ended = r.EndedAt
		}
		for _, run := range r.Runs {
			run.RunIndex = len(runs)
			runs = append(runs, run)
		}
	}

	agg := multirun.Aggregate(id, name, runs, keywords)
	var total int64
	for _, r := range runs {
		total += r.DurationMs
	}
	logger.Logger.Info("Results merged", "files", len(paths), "runs", len(runs), "pass_rate", agg.PassRate)

	return &multirun.MultiRunResult{
		RunID:            uuid.NewString(),
		Success:          agg.PassRate == 100,
		AggregatedReport: agg,
		Runs:             runs,
		StartedAt:        started,
		EndedAt:          ended,
		TotalDurationMs:  total,
	}, nil
}
