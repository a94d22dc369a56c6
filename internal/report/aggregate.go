// Package report turns raw check results and scan findings into a scored
// QualityReport and renders it for humans, JSON consumers, and files.
package report

import (
	"math"
	"time"

	"github.com/msageha/gatecheck/internal/model"
)

type categoryTally struct {
	total  int
	passed int
}

// Aggregate builds the QualityReport for one run. It is deterministic:
// the same inputs always produce the same score and verdict.
func Aggregate(policy *model.GatePolicy, runID, root string, results []model.CheckResult, findings []model.ScanFinding, startedAt, finishedAt time.Time) *model.QualityReport {
	report := &model.QualityReport{
		RunID:        runID,
		Root:         root,
		CheckResults: results,
		Findings:     findings,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
	}

	report.Score = Score(policy, results, findings)
	report.Verdict = verdict(policy, report)
	return report
}

// Score computes the weighted quality score in [0, 100]. Each category
// contributes its pass ratio times its weight; a category with no units
// contributes full weight. Pattern rules count as lint units, where a
// rule passes when it produced no findings.
func Score(policy *model.GatePolicy, results []model.CheckResult, findings []model.ScanFinding) float64 {
	tallies := make(map[model.Category]*categoryTally, len(model.Categories))
	for _, c := range model.Categories {
		tallies[c] = &categoryTally{}
	}

	for _, result := range results {
		cat := model.CategoryLint
		if spec := policy.Check(result.CheckID); spec != nil && spec.Category != "" {
			cat = spec.Category
		}
		t := tallies[cat]
		t.total++
		if !result.Status.IsFailure() {
			t.passed++
		}
	}

	dirtyRules := make(map[string]bool, len(findings))
	for _, f := range findings {
		dirtyRules[f.RuleID] = true
	}
	for _, rule := range policy.PatternRules {
		t := tallies[model.CategoryLint]
		t.total++
		if !dirtyRules[rule.ID] {
			t.passed++
		}
	}

	weights := policy.EffectiveWeights()
	totalWeight := weights.Total()
	if totalWeight <= 0 {
		return 0
	}

	var weighted float64
	for _, c := range model.Categories {
		t := tallies[c]
		ratio := 1.0
		if t.total > 0 {
			ratio = float64(t.passed) / float64(t.total)
		}
		weighted += weights.For(c) * ratio
	}

	score := 100 * weighted / totalWeight
	return math.Round(score*100) / 100
}

// verdict applies the gate invariant: blocked when a required check did
// not pass (or never ran), a blocking finding exists, or the score falls
// below the policy minimum. Approved otherwise.
func verdict(policy *model.GatePolicy, report *model.QualityReport) model.Verdict {
	for i := range policy.Checks {
		spec := &policy.Checks[i]
		if !spec.RequiredForGate {
			continue
		}
		result := report.Result(spec.ID)
		if result == nil || result.Status.IsFailure() {
			return model.VerdictBlocked
		}
	}
	for _, f := range report.Findings {
		if f.Severity == model.SeverityBlocking {
			return model.VerdictBlocked
		}
	}
	if report.Score < policy.MinimumScore {
		return model.VerdictBlocked
	}
	return model.VerdictApproved
}
