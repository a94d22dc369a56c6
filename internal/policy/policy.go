// Package policy loads and validates gate policy documents.
package policy

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/msageha/gatecheck/internal/model"
)

// Load reads, parses, and validates a policy file. On schema violations the
// returned error is a *ValidationErrors listing every problem at once.
func Load(path string) (*model.GatePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and validates a policy document.
func LoadBytes(data []byte) (*model.GatePolicy, error) {
	var p model.GatePolicy

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // strict mode: fail on unknown fields
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse policy yaml: %w", err)
	}

	if err := validateHeader(&p); err != nil {
		return nil, err
	}
	if errs := Validate(&p); errs != nil {
		return nil, errs
	}
	applyDefaults(&p)
	return &p, nil
}

func validateHeader(p *model.GatePolicy) error {
	if p.SchemaVersion < 1 {
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", p.SchemaVersion)
	}
	if p.SchemaVersion > model.CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)",
			p.SchemaVersion, model.CurrentSchemaVersion)
	}
	if p.FileType == "" {
		return fmt.Errorf("missing file_type")
	}
	if p.FileType != model.PolicyFileType {
		return fmt.Errorf("file_type mismatch: got %q, expected %q", p.FileType, model.PolicyFileType)
	}
	return nil
}

// Validate checks every field of the policy and returns the complete list of
// violations, or nil when the policy is valid.
func Validate(p *model.GatePolicy) *ValidationErrors {
	errs := &ValidationErrors{}

	if p.MinimumScore < 0 || p.MinimumScore > 100 {
		errs.Addf("minimum_score", "must be between 0 and 100, got %g", p.MinimumScore)
	}
	if p.Concurrency < 0 {
		errs.Addf("concurrency", "must be >= 0, got %d", p.Concurrency)
	}
	if p.OverallTimeoutSec < 0 {
		errs.Addf("overall_timeout_sec", "must be >= 0, got %d", p.OverallTimeoutSec)
	}
	if p.Weights != nil {
		for _, c := range model.Categories {
			if p.Weights.For(c) < 0 {
				errs.Addf(fmt.Sprintf("weights.%s", c), "must be >= 0, got %g", p.Weights.For(c))
			}
		}
		if p.Weights.Total() <= 0 {
			errs.Add("weights", "weights must sum to a positive total")
		}
	}
	if len(p.Checks) == 0 && len(p.PatternRules) == 0 {
		errs.Add("checks", "policy declares no checks and no pattern rules")
	}

	validateChecks(p, errs)
	validatePatternRules(p, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateChecks(p *model.GatePolicy, errs *ValidationErrors) {
	ids := make([]string, 0, len(p.Checks))
	seen := make(map[string]bool, len(p.Checks))
	dependsOn := make(map[string][]string, len(p.Checks))

	for i, check := range p.Checks {
		path := fmt.Sprintf("checks[%d]", i)
		if check.ID == "" {
			errs.Add(path+".id", "missing id")
			continue
		}
		path = fmt.Sprintf("checks[%s]", check.ID)

		if seen[check.ID] {
			errs.Add(path+".id", "duplicate check id")
			continue
		}
		seen[check.ID] = true
		ids = append(ids, check.ID)
		dependsOn[check.ID] = check.DependsOn

		if len(check.Command) == 0 || check.Command[0] == "" {
			errs.Add(path+".command", "command must have at least an executable")
		}
		if check.TimeoutSec < 0 {
			errs.Addf(path+".timeout_sec", "must be >= 0, got %d", check.TimeoutSec)
		}
		if check.Category != "" && !model.ValidCategory(check.Category) {
			errs.Addf(path+".category", "unknown category %q", check.Category)
		}
		if check.FailOnOutput != "" {
			if _, err := regexp.Compile(check.FailOnOutput); err != nil {
				errs.Addf(path+".fail_on_output", "invalid regex: %v", err)
			}
		}
		for j, env := range check.Env {
			if !strings.Contains(env, "=") {
				errs.Addf(fmt.Sprintf("%s.env[%d]", path, j), "must be KEY=VALUE, got %q", env)
			}
		}
		for j, dep := range check.DependsOn {
			depPath := fmt.Sprintf("%s.depends_on[%d]", path, j)
			if dep == check.ID {
				errs.Add(depPath, "self-reference is not allowed")
			}
		}
	}

	// Unknown depends_on references, checked against the full id set.
	for _, check := range p.Checks {
		if check.ID == "" {
			continue
		}
		for j, dep := range check.DependsOn {
			if dep != check.ID && !seen[dep] {
				errs.Addf(fmt.Sprintf("checks[%s].depends_on[%d]", check.ID, j),
					"references unknown check %q", dep)
			}
		}
	}

	if _, err := ValidateCheckDAG(ids, dependsOn); err != nil {
		errs.Add("checks", err.Error())
	}
}

func validatePatternRules(p *model.GatePolicy, errs *ValidationErrors) {
	seen := make(map[string]bool, len(p.PatternRules))
	for i, rule := range p.PatternRules {
		path := fmt.Sprintf("pattern_rules[%d]", i)
		if rule.ID == "" {
			errs.Add(path+".id", "missing id")
		} else {
			path = fmt.Sprintf("pattern_rules[%s]", rule.ID)
			if seen[rule.ID] {
				errs.Add(path+".id", "duplicate rule id")
			}
			seen[rule.ID] = true
		}

		if rule.Pattern == "" {
			errs.Add(path+".pattern", "missing pattern")
		} else if _, err := regexp.Compile(rule.Pattern); err != nil {
			errs.Addf(path+".pattern", "invalid regex: %v", err)
		}

		if len(rule.AppliesToGlobs) == 0 {
			errs.Add(path+".applies_to_globs", "at least one glob is required")
		}
		for j, glob := range rule.AppliesToGlobs {
			if !doublestar.ValidatePattern(glob) {
				errs.Addf(fmt.Sprintf("%s.applies_to_globs[%d]", path, j), "invalid glob %q", glob)
			}
		}
		for j, glob := range rule.ExcludeGlobs {
			if !doublestar.ValidatePattern(glob) {
				errs.Addf(fmt.Sprintf("%s.exclude_globs[%d]", path, j), "invalid glob %q", glob)
			}
		}

		if rule.Severity != "" && !model.ValidSeverity(rule.Severity) {
			errs.Addf(path+".severity", "invalid severity %q", rule.Severity)
		}
	}
}

// applyDefaults fills optional fields after successful validation.
func applyDefaults(p *model.GatePolicy) {
	for i := range p.Checks {
		check := &p.Checks[i]
		if check.TimeoutSec == 0 {
			check.TimeoutSec = model.DefaultCheckTimeoutSec
		}
		if check.Category == "" {
			check.Category = model.CategoryLint
		}
	}
	for i := range p.PatternRules {
		if p.PatternRules[i].Severity == "" {
			p.PatternRules[i].Severity = model.SeverityBlocking
		}
	}
}

// TopoOrder returns check specs in a dependency-respecting order.
// The policy must already have passed Validate.
func TopoOrder(p *model.GatePolicy) ([]model.CheckSpec, error) {
	ids := make([]string, 0, len(p.Checks))
	dependsOn := make(map[string][]string, len(p.Checks))
	for _, check := range p.Checks {
		ids = append(ids, check.ID)
		dependsOn[check.ID] = check.DependsOn
	}
	sorted, err := ValidateCheckDAG(ids, dependsOn)
	if err != nil {
		return nil, err
	}
	ordered := make([]model.CheckSpec, 0, len(sorted))
	for _, id := range sorted {
		ordered = append(ordered, *p.Check(id))
	}
	return ordered, nil
}
