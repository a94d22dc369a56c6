// Package runner executes one external check command and classifies the
// outcome. All failure modes are encoded in the CheckResult status; Run
// never propagates an error past its boundary.
package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/gatecheck/internal/model"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the
// process group is killed (toolchains commonly leave grandchildren
// holding stdout).
const waitDelay = 3 * time.Second

type Runner struct {
	logger          *zap.SugaredLogger
	maxCaptureBytes int
}

func New(logger *zap.SugaredLogger) *Runner {
	return &Runner{
		logger:          logger,
		maxCaptureBytes: model.DefaultMaxCaptureBytes,
	}
}

// SetMaxCaptureBytes overrides the per-stream capture cap (tests).
func (r *Runner) SetMaxCaptureBytes(n int) {
	if n > 0 {
		r.maxCaptureBytes = n
	}
}

// Run executes the spec once. Repeated invocations are independent; the
// runner holds no per-check state.
func (r *Runner) Run(ctx context.Context, spec model.CheckSpec) model.CheckResult {
	result := model.CheckResult{
		CheckID:   spec.ID,
		StartedAt: time.Now().UTC(),
	}

	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkingDirectory
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdout := newCapBuffer(r.maxCaptureBytes)
	stderr := newCapBuffer(r.maxCaptureBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Run the check in its own process group and kill the whole group on
	// timeout or cancellation, so helper processes spawned by compilers
	// and test runners do not outlive the check.
	setupProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = waitDelay

	r.logger.Debugf("check_start id=%s command=%q workdir=%s timeout=%s",
		spec.ID, spec.Command[0], spec.WorkingDirectory, spec.Timeout())

	err := cmd.Run()

	result.FinishedAt = time.Now().UTC()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Truncated = stdout.Truncated() || stderr.Truncated()

	result.Status, result.ExitCode = classify(ctx, runCtx, err)

	if result.Status == model.CheckPassed && spec.FailOnOutput != "" {
		if re, reErr := regexp.Compile(spec.FailOnOutput); reErr == nil {
			if re.MatchString(result.Stdout) || re.MatchString(result.Stderr) {
				result.Status = model.CheckFailed
			}
		}
	}

	r.logger.Debugf("check_finish id=%s status=%s duration=%s",
		spec.ID, result.Status, result.Duration().Round(time.Millisecond))

	return result
}

// classify maps a Run error onto a CheckStatus. The timeout test must come
// before the exit-error test: a killed process also surfaces as *ExitError.
func classify(parent, runCtx context.Context, err error) (model.CheckStatus, *int) {
	if err == nil {
		code := 0
		return model.CheckPassed, &code
	}

	if runCtx.Err() == context.DeadlineExceeded && parent.Err() == nil {
		return model.CheckTimedOut, nil
	}
	if parent.Err() != nil {
		// Caller-initiated cancellation; the pipeline discards the report.
		return model.CheckError, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return model.CheckToolMissing, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return model.CheckFailed, &code
	}

	// Launch or monitoring fault (permission denied, fork failure, ...).
	return model.CheckError, nil
}
