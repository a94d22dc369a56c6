package model

import "fmt"

// CheckStatus is the terminal outcome of one check execution.
type CheckStatus string

const (
	CheckPassed      CheckStatus = "passed"
	CheckFailed      CheckStatus = "failed"
	CheckTimedOut    CheckStatus = "timed_out"
	CheckToolMissing CheckStatus = "tool_missing"
	CheckError       CheckStatus = "error"
)

var validCheckStatuses = map[CheckStatus]bool{
	CheckPassed:      true,
	CheckFailed:      true,
	CheckTimedOut:    true,
	CheckToolMissing: true,
	CheckError:       true,
}

func ValidCheckStatus(s CheckStatus) bool {
	return validCheckStatuses[s]
}

// IsFailure reports whether the status counts against the gate.
// Everything except passed is a failure for gating purposes.
func (s CheckStatus) IsFailure() bool {
	return s != CheckPassed
}

// Verb renders the status for human-facing diagnostics.
func (s CheckStatus) Verb() string {
	switch s {
	case CheckPassed:
		return "passed"
	case CheckFailed:
		return "failed"
	case CheckTimedOut:
		return "timed out"
	case CheckToolMissing:
		return "tool missing"
	case CheckError:
		return "errored"
	default:
		return string(s)
	}
}

type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictBlocked  Verdict = "blocked"
)

type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityWarning  Severity = "warning"
)

func ValidSeverity(s Severity) bool {
	return s == SeverityBlocking || s == SeverityWarning
}

// Category buckets a check for scoring purposes.
type Category string

const (
	CategoryBuild    Category = "build"
	CategoryTest     Category = "test"
	CategoryLint     Category = "lint"
	CategoryDocs     Category = "docs"
	CategorySecurity Category = "security"
)

// Categories lists all scoring categories in weight order.
var Categories = []Category{
	CategoryBuild,
	CategoryTest,
	CategoryLint,
	CategoryDocs,
	CategorySecurity,
}

func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// RunState is the lifecycle state of one pipeline run.
type RunState string

const (
	RunStateIdle        RunState = "idle"
	RunStateScheduling  RunState = "scheduling"
	RunStateRunning     RunState = "running"
	RunStateAggregating RunState = "aggregating"
	RunStateDecided     RunState = "decided"
	RunStateCompleted   RunState = "completed"
	RunStateAborted     RunState = "aborted"
)

var terminalRunStates = map[RunState]bool{
	RunStateCompleted: true,
	RunStateAborted:   true,
}

// Run lifecycle: idle → scheduling → running → aggregating → decided → completed.
// Aborted is reachable from every non-terminal state (cancellation, policy rejection).
var validRunTransitions = map[RunState]map[RunState]bool{
	RunStateIdle: {
		RunStateScheduling: true,
		RunStateAborted:    true,
	},
	RunStateScheduling: {
		RunStateRunning: true,
		RunStateAborted: true,
	},
	RunStateRunning: {
		RunStateAggregating: true,
		RunStateAborted:     true,
	},
	RunStateAggregating: {
		RunStateDecided: true,
		RunStateAborted: true,
	},
	RunStateDecided: {
		RunStateCompleted: true,
		RunStateAborted:   true,
	},
}

func IsRunTerminal(s RunState) bool {
	return terminalRunStates[s]
}

func ValidateRunTransition(from, to RunState) error {
	if IsRunTerminal(from) {
		return fmt.Errorf("cannot transition from terminal run state %q", from)
	}
	allowed, ok := validRunTransitions[from]
	if !ok {
		return fmt.Errorf("unknown run state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid run transition: %q → %q", from, to)
	}
	return nil
}
