package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/gatecheck/internal/model"
)

func intPtr(n int) *int { return &n }

func passedResult(id string) model.CheckResult {
	return model.CheckResult{CheckID: id, Status: model.CheckPassed, ExitCode: intPtr(0)}
}

func failedResult(id string, code int) model.CheckResult {
	return model.CheckResult{CheckID: id, Status: model.CheckFailed, ExitCode: intPtr(code)}
}

func testPolicy(checks ...model.CheckSpec) *model.GatePolicy {
	return &model.GatePolicy{
		SchemaVersion: 1,
		FileType:      model.PolicyFileType,
		MinimumScore:  0,
		Checks:        checks,
	}
}

func TestScore_AllPassedIsHundred(t *testing.T) {
	p := testPolicy(
		model.CheckSpec{ID: "b", Category: model.CategoryBuild},
		model.CheckSpec{ID: "t", Category: model.CategoryTest},
	)
	score := Score(p, []model.CheckResult{passedResult("b"), passedResult("t")}, nil)
	assert.Equal(t, 100.0, score)
}

func TestScore_EmptyCategoryGetsFullWeight(t *testing.T) {
	// Only a build check exists; the other categories contribute their
	// full weight, so a passing build alone still scores 100.
	p := testPolicy(model.CheckSpec{ID: "b", Category: model.CategoryBuild})
	score := Score(p, []model.CheckResult{passedResult("b")}, nil)
	assert.Equal(t, 100.0, score)
}

func TestScore_FailedBuildDropsBuildWeight(t *testing.T) {
	p := testPolicy(model.CheckSpec{ID: "b", Category: model.CategoryBuild})
	score := Score(p, []model.CheckResult{failedResult("b", 1)}, nil)
	// Default weights: build is 30 of 100.
	assert.Equal(t, 70.0, score)
}

func TestScore_PatternRulesCountAsLintUnits(t *testing.T) {
	p := testPolicy()
	p.PatternRules = []model.PatternRule{
		{ID: "clean-rule", Pattern: "x", AppliesToGlobs: []string{"**/*"}},
		{ID: "dirty-rule", Pattern: "y", AppliesToGlobs: []string{"**/*"}},
	}

	findings := []model.ScanFinding{
		{RuleID: "dirty-rule", Severity: model.SeverityWarning, FilePath: "a.go", LineNumber: 1},
	}

	// Lint holds two units, one clean. Lint weight 25, half earned.
	score := Score(p, nil, findings)
	assert.Equal(t, 87.5, score)
}

func TestScore_Deterministic(t *testing.T) {
	p := testPolicy(
		model.CheckSpec{ID: "b", Category: model.CategoryBuild},
		model.CheckSpec{ID: "t", Category: model.CategoryTest},
		model.CheckSpec{ID: "l", Category: model.CategoryLint},
	)
	results := []model.CheckResult{passedResult("b"), failedResult("t", 1), passedResult("l")}

	first := Score(p, results, nil)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(p, results, nil))
	}
}

func TestAggregate_VerdictBlockedByRequiredFailure(t *testing.T) {
	p := testPolicy(
		model.CheckSpec{ID: "a", Category: model.CategoryBuild},
		model.CheckSpec{ID: "b", Category: model.CategoryTest, RequiredForGate: true},
	)
	rep := Aggregate(p, "run_1700000000_abcd1234", "/repo",
		[]model.CheckResult{passedResult("a"), failedResult("b", 1)},
		nil, time.Now(), time.Now())

	assert.Equal(t, model.VerdictBlocked, rep.Verdict)
}

func TestAggregate_VerdictBlockedByMissingRequiredCheck(t *testing.T) {
	p := testPolicy(model.CheckSpec{ID: "b", RequiredForGate: true})
	rep := Aggregate(p, "run_1700000000_abcd1234", "/repo", nil, nil, time.Now(), time.Now())

	assert.Equal(t, model.VerdictBlocked, rep.Verdict)
}

func TestAggregate_VerdictBlockedByScore(t *testing.T) {
	p := testPolicy(model.CheckSpec{ID: "l", Category: model.CategoryLint})
	p.MinimumScore = 90

	rep := Aggregate(p, "run_1700000000_abcd1234", "/repo",
		[]model.CheckResult{failedResult("l", 1)}, nil, time.Now(), time.Now())

	assert.Equal(t, 75.0, rep.Score)
	assert.Equal(t, model.VerdictBlocked, rep.Verdict)
}

func TestAggregate_VerdictMonotonic(t *testing.T) {
	// Adding a blocking finding to an approved run can only block it.
	p := testPolicy(model.CheckSpec{ID: "b", Category: model.CategoryBuild})
	results := []model.CheckResult{passedResult("b")}

	approved := Aggregate(p, "run_1700000000_abcd1234", "/repo", results, nil, time.Now(), time.Now())
	require.Equal(t, model.VerdictApproved, approved.Verdict)

	finding := []model.ScanFinding{{
		RuleID: "r", Severity: model.SeverityBlocking, FilePath: "a.go", LineNumber: 1,
	}}
	blocked := Aggregate(p, "run_1700000000_abcd1234", "/repo", results, finding, time.Now(), time.Now())
	assert.Equal(t, model.VerdictBlocked, blocked.Verdict)
}

func TestAggregate_WarningFindingDoesNotBlock(t *testing.T) {
	p := testPolicy(model.CheckSpec{ID: "b", Category: model.CategoryBuild})
	finding := []model.ScanFinding{{
		RuleID: "r", Severity: model.SeverityWarning, FilePath: "a.go", LineNumber: 1,
	}}
	rep := Aggregate(p, "run_1700000000_abcd1234", "/repo",
		[]model.CheckResult{passedResult("b")}, finding, time.Now(), time.Now())

	assert.Equal(t, model.VerdictApproved, rep.Verdict)
}

func TestRenderJSON_RoundTrips(t *testing.T) {
	p := testPolicy(model.CheckSpec{ID: "b", Category: model.CategoryBuild})
	rep := Aggregate(p, "run_1700000000_abcd1234", "/repo",
		[]model.CheckResult{passedResult("b")}, nil, time.Now(), time.Now())

	out, err := RenderJSON(rep, model.GateDecision{Approved: true})
	require.NoError(t, err)

	var decoded payload
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, rep.RunID, decoded.Report.RunID)
	assert.True(t, decoded.Decision.Approved)
}

func TestRenderText_ListsChecksAndReasons(t *testing.T) {
	p := testPolicy(model.CheckSpec{ID: "b", Category: model.CategoryBuild, RequiredForGate: true})
	rep := Aggregate(p, "run_1700000000_abcd1234", "/repo",
		[]model.CheckResult{failedResult("b", 1)}, nil, time.Now(), time.Now())

	text := RenderText(rep, model.GateDecision{
		Approved:        false,
		BlockingReasons: []string{`required check "b" failed (exit 1)`},
	})

	assert.Contains(t, text, "run_1700000000_abcd1234")
	assert.Contains(t, text, "[FAIL]")
	assert.Contains(t, text, "Verdict: BLOCKED")
	assert.Contains(t, text, `required check "b" failed (exit 1)`)
	assert.NotContains(t, text, "\x1b[", "output must stay free of ANSI escapes")
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	require.NoError(t, WriteAtomic(path, []byte(`{"ok":true}`)))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(content))

	// Overwrite goes through the same rename path.
	require.NoError(t, WriteAtomic(path, []byte(`{"ok":false}`)))
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":false}`, string(content))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".gatecheck-tmp-"), "leftover temp file %s", e.Name())
	}
}
