package model

import "time"

// CheckResult is the outcome of running one CheckSpec once.
// Immutable once FinishedAt is set; owned by the aggregator after emission.
type CheckResult struct {
	CheckID    string      `json:"check_id"`
	Status     CheckStatus `json:"status"`
	ExitCode   *int        `json:"exit_code,omitempty"`
	Stdout     string      `json:"stdout,omitempty"`
	Stderr     string      `json:"stderr,omitempty"`
	Truncated  bool        `json:"truncated,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

func (r CheckResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ScanFinding is one match of a PatternRule against a file. Read-only.
type ScanFinding struct {
	RuleID      string   `json:"rule_id"`
	Severity    Severity `json:"severity"`
	FilePath    string   `json:"file_path"`
	LineNumber  int      `json:"line_number"`
	MatchedText string   `json:"matched_text"`
}

// QualityReport is the immutable aggregate of one pipeline run.
// CheckResults are in completion order; Findings in (path, line) order.
type QualityReport struct {
	RunID        string        `json:"run_id"`
	Root         string        `json:"root"`
	CheckResults []CheckResult `json:"check_results"`
	Findings     []ScanFinding `json:"findings,omitempty"`
	Score        float64       `json:"score"`
	Verdict      Verdict       `json:"verdict"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// Result returns the result for a check id, or nil if the check never ran.
func (r *QualityReport) Result(checkID string) *CheckResult {
	for i := range r.CheckResults {
		if r.CheckResults[i].CheckID == checkID {
			return &r.CheckResults[i]
		}
	}
	return nil
}

// GateDecision is the user-facing verdict with exhaustive diagnostics.
// BlockingReasons lists every blocking condition, never just the first.
type GateDecision struct {
	Approved        bool     `json:"approved"`
	BlockingReasons []string `json:"blocking_reasons,omitempty"`
}
