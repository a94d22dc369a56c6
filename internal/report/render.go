package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/msageha/gatecheck/internal/model"
)

// payload is the JSON shape emitted by --format json and --output.
type payload struct {
	Report   *model.QualityReport `json:"report"`
	Decision model.GateDecision   `json:"decision"`
}

// RenderJSON renders the report plus decision as indented JSON.
func RenderJSON(report *model.QualityReport, decision model.GateDecision) ([]byte, error) {
	out, err := json.MarshalIndent(payload{Report: report, Decision: decision}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return append(out, '\n'), nil
}

// RenderText renders a plain-text report. The output carries no ANSI
// escapes or cursor control so it stays readable through a pipe or a
// commit-hook log.
func RenderText(report *model.QualityReport, decision model.GateDecision) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Quality Report %s\n", report.RunID)
	fmt.Fprintf(&b, "Root: %s\n", report.Root)
	fmt.Fprintf(&b, "Duration: %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	b.WriteString("\n")

	if len(report.CheckResults) > 0 {
		b.WriteString("Checks:\n")
		for _, r := range report.CheckResults {
			fmt.Fprintf(&b, "  %-6s %-24s %s", statusMark(r.Status), r.CheckID, r.Status.Verb())
			if r.ExitCode != nil && *r.ExitCode != 0 {
				fmt.Fprintf(&b, " (exit %d)", *r.ExitCode)
			}
			fmt.Fprintf(&b, "  %s\n", r.Duration().Round(time.Millisecond))
		}
		b.WriteString("\n")
	}

	if len(report.Findings) > 0 {
		fmt.Fprintf(&b, "Findings (%d):\n", len(report.Findings))
		for _, f := range report.Findings {
			fmt.Fprintf(&b, "  [%s] %s:%d  %s  %q\n",
				f.Severity, f.FilePath, f.LineNumber, f.RuleID, f.MatchedText)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Score: %.2f\n", report.Score)
	fmt.Fprintf(&b, "Verdict: %s\n", strings.ToUpper(string(report.Verdict)))

	if len(decision.BlockingReasons) > 0 {
		b.WriteString("Blocking reasons:\n")
		for _, reason := range decision.BlockingReasons {
			fmt.Fprintf(&b, "  - %s\n", reason)
		}
	}

	return b.String()
}

func statusMark(s model.CheckStatus) string {
	if s == model.CheckPassed {
		return "[ok]"
	}
	return "[FAIL]"
}
