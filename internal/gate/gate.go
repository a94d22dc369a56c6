// Package gate evaluates the final verdict of a pipeline run. Any single
// blocking condition vetoes approval; the decision lists every one of
// them so the caller never fixes problems one re-run at a time.
package gate

import (
	"fmt"

	"github.com/msageha/gatecheck/internal/model"
)

// Decide applies the gate policy to a finished report. Reasons come out
// in priority order: blocking findings, failed required checks, then the
// score threshold.
func Decide(policy *model.GatePolicy, report *model.QualityReport) model.GateDecision {
	var reasons []string

	for _, f := range report.Findings {
		if f.Severity != model.SeverityBlocking {
			continue
		}
		reasons = append(reasons, fmt.Sprintf(
			"forbidden pattern %q matched at %s:%d (%q)",
			f.RuleID, f.FilePath, f.LineNumber, f.MatchedText))
	}

	for i := range policy.Checks {
		spec := &policy.Checks[i]
		if !spec.RequiredForGate {
			continue
		}
		result := report.Result(spec.ID)
		if result == nil {
			reasons = append(reasons, fmt.Sprintf("required check %q did not run", spec.ID))
			continue
		}
		if result.Status.IsFailure() {
			reasons = append(reasons, requiredCheckReason(spec.ID, result))
		}
	}

	if report.Score < policy.MinimumScore {
		reasons = append(reasons, fmt.Sprintf(
			"score %.2f below required minimum %.2f", report.Score, policy.MinimumScore))
	}

	return model.GateDecision{
		Approved:        len(reasons) == 0,
		BlockingReasons: reasons,
	}
}

func requiredCheckReason(id string, result *model.CheckResult) string {
	if result.Status == model.CheckFailed && result.ExitCode != nil {
		return fmt.Sprintf("required check %q failed (exit %d)", id, *result.ExitCode)
	}
	return fmt.Sprintf("required check %q %s", id, result.Status.Verb())
}
