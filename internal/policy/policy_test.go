package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/gatecheck/internal/model"
)

const validPolicy = `
schema_version: 1
file_type: gate_policy
minimum_score: 80
checks:
  - id: build
    command: ["go", "build", "./..."]
    category: build
    required_for_gate: true
  - id: test
    command: ["go", "test", "./..."]
    category: test
    depends_on: [build]
pattern_rules:
  - id: no-fixme
    pattern: "FIXME"
    applies_to_globs: ["**/*.go"]
    exclude_globs: ["**/testdata/**"]
`

func TestLoadBytes_Valid(t *testing.T) {
	p, err := LoadBytes([]byte(validPolicy))
	require.NoError(t, err)

	assert.Equal(t, 80.0, p.MinimumScore)
	require.Len(t, p.Checks, 2)
	require.Len(t, p.PatternRules, 1)

	// Defaults applied after validation.
	assert.Equal(t, model.DefaultCheckTimeoutSec, p.Checks[0].TimeoutSec)
	assert.Equal(t, time.Duration(model.DefaultCheckTimeoutSec)*time.Second, p.Checks[0].Timeout())
	assert.Equal(t, model.SeverityBlocking, p.PatternRules[0].Severity)
	assert.Equal(t, model.DefaultWeights(), p.EffectiveWeights())
}

func TestLoadBytes_DefaultCategoryIsLint(t *testing.T) {
	p, err := LoadBytes([]byte(`
schema_version: 1
file_type: gate_policy
checks:
  - id: fmt
    command: ["gofmt", "-l", "."]
`))
	require.NoError(t, err)
	assert.Equal(t, model.CategoryLint, p.Checks[0].Category)
}

func TestLoadBytes_UnknownFieldRejected(t *testing.T) {
	_, err := LoadBytes([]byte(`
schema_version: 1
file_type: gate_policy
no_such_field: true
checks:
  - id: a
    command: ["true"]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse policy yaml")
}

func TestLoadBytes_HeaderViolations(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"missing version", "file_type: gate_policy\nchecks: []\n", "schema_version"},
		{"future version", "schema_version: 99\nfile_type: gate_policy\nchecks: []\n", "unsupported schema_version"},
		{"missing file_type", "schema_version: 1\nchecks: []\n", "file_type"},
		{"wrong file_type", "schema_version: 1\nfile_type: config\nchecks: []\n", "file_type mismatch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_CollectsEveryViolation(t *testing.T) {
	p := &model.GatePolicy{
		SchemaVersion: 1,
		FileType:      model.PolicyFileType,
		MinimumScore:  150,
		Concurrency:   -1,
		Checks: []model.CheckSpec{
			{ID: "a", Command: nil, TimeoutSec: -5, Category: "style"},
			{ID: "a", Command: []string{"true"}},
			{ID: "b", Command: []string{"true"}, DependsOn: []string{"b", "ghost"}},
			{ID: "c", Command: []string{"true"}, Env: []string{"NOEQUALS"}, FailOnOutput: "("},
		},
		PatternRules: []model.PatternRule{
			{ID: "", Pattern: "(", AppliesToGlobs: nil, Severity: "fatal"},
		},
	}

	errs := Validate(p)
	require.NotNil(t, errs)

	paths := make(map[string]bool)
	for _, e := range errs.Errors {
		paths[e.FieldPath] = true
	}

	// One pass reports every problem, not just the first.
	assert.True(t, paths["minimum_score"])
	assert.True(t, paths["concurrency"])
	assert.True(t, paths["checks[a].command"])
	assert.True(t, paths["checks[a].timeout_sec"])
	assert.True(t, paths["checks[a].category"])
	assert.True(t, paths["checks[a].id"], "duplicate id")
	assert.True(t, paths["checks[b].depends_on[0]"], "self reference")
	assert.True(t, paths["checks[b].depends_on[1]"], "unknown reference")
	assert.True(t, paths["checks[c].env[0]"])
	assert.True(t, paths["checks[c].fail_on_output"])
	assert.True(t, paths["pattern_rules[0].id"])
	assert.True(t, paths["pattern_rules[0].pattern"])
	assert.True(t, paths["pattern_rules[0].applies_to_globs"])
	assert.True(t, paths["pattern_rules[0].severity"])
}

func TestValidate_CyclicPolicyRejected(t *testing.T) {
	_, err := LoadBytes([]byte(`
schema_version: 1
file_type: gate_policy
checks:
  - id: a
    command: ["true"]
    depends_on: [b]
  - id: b
    command: ["true"]
    depends_on: [a]
`))
	require.Error(t, err)

	verrs, ok := err.(*ValidationErrors)
	require.True(t, ok, "expected *ValidationErrors, got %T", err)
	assert.Contains(t, verrs.Error(), "circular dependency")
}

func TestValidate_EmptyPolicyRejected(t *testing.T) {
	_, err := LoadBytes([]byte(`
schema_version: 1
file_type: gate_policy
checks: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no checks and no pattern rules")
}

func TestValidate_WeightsSanity(t *testing.T) {
	zero := &model.Weights{}
	p := &model.GatePolicy{
		SchemaVersion: 1,
		FileType:      model.PolicyFileType,
		Weights:       zero,
		Checks:        []model.CheckSpec{{ID: "a", Command: []string{"true"}}},
	}
	errs := Validate(p)
	require.NotNil(t, errs)
	assert.Contains(t, errs.Error(), "positive total")
}

func TestTopoOrder_RespectsDependencies(t *testing.T) {
	p, err := LoadBytes([]byte(validPolicy))
	require.NoError(t, err)

	ordered, err := TopoOrder(p)
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, "build", ordered[0].ID)
	assert.Equal(t, "test", ordered[1].ID)
}
