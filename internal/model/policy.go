// Package model defines the data structures for gatecheck policies,
// check results, and quality reports.
package model

import "time"

const (
	// CurrentSchemaVersion is the newest policy schema this binary understands.
	CurrentSchemaVersion = 1

	// PolicyFileType is the required file_type header of a policy document.
	PolicyFileType = "gate_policy"

	// DefaultCheckTimeoutSec applies when a check declares no timeout.
	DefaultCheckTimeoutSec = 120

	// DefaultMaxCaptureBytes caps stdout/stderr capture per stream.
	DefaultMaxCaptureBytes = 1 << 20
)

// CheckSpec is the declarative definition of one quality check.
// Immutable once loaded; the runner never modifies it.
type CheckSpec struct {
	ID               string   `yaml:"id"`
	Command          []string `yaml:"command"`
	WorkingDirectory string   `yaml:"working_directory,omitempty"`
	TimeoutSec       int      `yaml:"timeout_sec,omitempty"`
	Category         Category `yaml:"category,omitempty"`
	RequiredForGate  bool     `yaml:"required_for_gate,omitempty"`
	DependsOn        []string `yaml:"depends_on,omitempty"`

	// Mutating marks checks that rewrite files in their working directory
	// (formatters, code generators). The coordinator serializes them against
	// every other check sharing the same working directory.
	Mutating bool `yaml:"mutating,omitempty"`

	// Env entries (KEY=VALUE) appended to the inherited environment.
	Env []string `yaml:"env,omitempty"`

	// FailOnOutput is an optional regex; when it matches the combined
	// stdout/stderr of a zero-exit run, the check is marked failed
	// ("warnings as failure" predicate).
	FailOnOutput string `yaml:"fail_on_output,omitempty"`
}

func (c CheckSpec) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return DefaultCheckTimeoutSec * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// PatternRule is a forbidden-token definition for the pattern scanner.
type PatternRule struct {
	ID             string   `yaml:"id"`
	Pattern        string   `yaml:"pattern"`
	AppliesToGlobs []string `yaml:"applies_to_globs"`
	ExcludeGlobs   []string `yaml:"exclude_globs,omitempty"`
	Severity       Severity `yaml:"severity,omitempty"`
}

// Weights are the per-category scoring weights. They need not sum to 100;
// the aggregator normalizes by the total.
type Weights struct {
	Build    float64 `yaml:"build"`
	Test     float64 `yaml:"test"`
	Lint     float64 `yaml:"lint"`
	Docs     float64 `yaml:"docs"`
	Security float64 `yaml:"security"`
}

func DefaultWeights() Weights {
	return Weights{Build: 30, Test: 25, Lint: 25, Docs: 10, Security: 10}
}

func (w Weights) For(c Category) float64 {
	switch c {
	case CategoryBuild:
		return w.Build
	case CategoryTest:
		return w.Test
	case CategoryLint:
		return w.Lint
	case CategoryDocs:
		return w.Docs
	case CategorySecurity:
		return w.Security
	default:
		return 0
	}
}

func (w Weights) Total() float64 {
	var total float64
	for _, c := range Categories {
		total += w.For(c)
	}
	return total
}

// GatePolicy is the full declarative configuration of one pipeline run.
// Loaded once per run, never mutated during the run.
type GatePolicy struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`

	MinimumScore      float64  `yaml:"minimum_score"`
	Weights           *Weights `yaml:"weights,omitempty"`
	Concurrency       int      `yaml:"concurrency,omitempty"`
	OverallTimeoutSec int      `yaml:"overall_timeout_sec,omitempty"`

	// RunDependentsOnFailure dispatches a check even when one of its
	// dependencies did not pass. Default false: dependents of a failed
	// check are recorded as errored without running.
	RunDependentsOnFailure bool `yaml:"run_dependents_on_failure,omitempty"`

	Checks       []CheckSpec   `yaml:"checks"`
	PatternRules []PatternRule `yaml:"pattern_rules,omitempty"`
}

func (p *GatePolicy) EffectiveWeights() Weights {
	if p.Weights == nil {
		return DefaultWeights()
	}
	return *p.Weights
}

func (p *GatePolicy) OverallTimeout() time.Duration {
	if p.OverallTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(p.OverallTimeoutSec) * time.Second
}

// Check returns the spec with the given id, or nil.
func (p *GatePolicy) Check(id string) *CheckSpec {
	for i := range p.Checks {
		if p.Checks[i].ID == id {
			return &p.Checks[i]
		}
	}
	return nil
}
