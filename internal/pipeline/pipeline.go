// Package pipeline coordinates one quality-gate run: topological check
// scheduling over a bounded worker pool, the concurrent pattern scan,
// aggregation, and the final gate decision.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/msageha/gatecheck/internal/events"
	"github.com/msageha/gatecheck/internal/gate"
	"github.com/msageha/gatecheck/internal/lock"
	"github.com/msageha/gatecheck/internal/model"
	"github.com/msageha/gatecheck/internal/policy"
	"github.com/msageha/gatecheck/internal/report"
	"github.com/msageha/gatecheck/internal/runner"
	"github.com/msageha/gatecheck/internal/scanner"
)

// Coordinator owns the run lifecycle. One Coordinator may execute many
// runs sequentially (watch mode); a single run is never concurrent with
// itself.
type Coordinator struct {
	policy      *model.GatePolicy
	runner      *runner.Runner
	scanner     *scanner.Scanner
	locks       *lock.PathLocks
	bus         *events.Bus
	logger      *zap.SugaredLogger
	concurrency int

	state model.RunState
}

func New(policy *model.GatePolicy, logger *zap.SugaredLogger, bus *events.Bus) *Coordinator {
	concurrency := policy.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Coordinator{
		policy:      policy,
		runner:      runner.New(logger),
		scanner:     scanner.New(logger),
		locks:       lock.NewPathLocks(),
		bus:         bus,
		logger:      logger,
		concurrency: concurrency,
		state:       model.RunStateIdle,
	}
}

// SetConcurrency overrides the policy's worker pool size.
func (c *Coordinator) SetConcurrency(n int) {
	if n > 0 {
		c.concurrency = n
	}
}

// State returns the current run state.
func (c *Coordinator) State() model.RunState {
	return c.state
}

func (c *Coordinator) transition(to model.RunState) error {
	if err := model.ValidateRunTransition(c.state, to); err != nil {
		return err
	}
	c.logger.Debugf("run_transition from=%s to=%s", c.state, to)
	c.state = to
	return nil
}

// Run executes the whole pipeline once and returns the report with its
// gate decision. On caller cancellation the partial report is discarded
// and the context error is returned; a cancelled run never approves.
func (c *Coordinator) Run(ctx context.Context, root string) (*model.QualityReport, model.GateDecision, error) {
	c.state = model.RunStateIdle
	startedAt := time.Now().UTC()
	runID := model.GenerateRunID()

	if timeout := c.policy.OverallTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.transition(model.RunStateScheduling); err != nil {
		return nil, model.GateDecision{}, err
	}

	// Scheduling order is validated again at run time so a coordinator
	// handed an unvalidated policy still refuses a cyclic graph before
	// any process is spawned.
	if _, err := policy.TopoOrder(c.policy); err != nil {
		_ = c.transition(model.RunStateAborted)
		return nil, model.GateDecision{}, err
	}

	if err := c.transition(model.RunStateRunning); err != nil {
		return nil, model.GateDecision{}, err
	}

	c.logger.Infof("run_start id=%s root=%s checks=%d rules=%d concurrency=%d",
		runID, root, len(c.policy.Checks), len(c.policy.PatternRules), c.concurrency)
	c.bus.Publish(events.EventRunStarted, map[string]interface{}{
		"run_id": runID,
		"root":   root,
	})

	results, findings, runErr := c.execute(ctx, root)
	if runErr != nil {
		_ = c.transition(model.RunStateAborted)
		c.logger.Warnf("run_abort id=%s error=%v", runID, runErr)
		return nil, model.GateDecision{}, runErr
	}

	if err := c.transition(model.RunStateAggregating); err != nil {
		return nil, model.GateDecision{}, err
	}
	rep := report.Aggregate(c.policy, runID, root, results, findings, startedAt, time.Now().UTC())

	if err := c.transition(model.RunStateDecided); err != nil {
		return nil, model.GateDecision{}, err
	}
	decision := gate.Decide(c.policy, rep)

	if err := c.transition(model.RunStateCompleted); err != nil {
		return nil, model.GateDecision{}, err
	}

	c.logger.Infof("run_decided id=%s verdict=%s score=%.2f reasons=%d",
		runID, rep.Verdict, rep.Score, len(decision.BlockingReasons))
	c.bus.Publish(events.EventRunDecided, map[string]interface{}{
		"run_id":  runID,
		"verdict": string(rep.Verdict),
		"score":   rep.Score,
	})

	return rep, decision, nil
}

// pendingCheck tracks one not-yet-dispatched check.
type pendingCheck struct {
	spec      model.CheckSpec
	waiting   map[string]bool
	depFailed bool
}

// execute runs all checks and the pattern scan, returning results in
// completion order and findings in scan order.
func (c *Coordinator) execute(ctx context.Context, root string) ([]model.CheckResult, []model.ScanFinding, error) {
	total := len(c.policy.Checks)

	pending := make(map[string]*pendingCheck, total)
	dependents := make(map[string][]string, total)
	var ready []string

	for _, spec := range c.policy.Checks {
		pc := &pendingCheck{spec: spec, waiting: make(map[string]bool, len(spec.DependsOn))}
		for _, dep := range spec.DependsOn {
			pc.waiting[dep] = true
			dependents[dep] = append(dependents[dep], spec.ID)
		}
		pending[spec.ID] = pc
		if len(pc.waiting) == 0 {
			ready = append(ready, spec.ID)
		}
	}

	// The pattern scan runs alongside the checks without consuming a
	// check slot.
	scanCh := make(chan struct{})
	var findings []model.ScanFinding
	var scanErr error
	go func() {
		defer close(scanCh)
		findings, scanErr = c.scanner.Scan(ctx, root, c.policy.PatternRules)
		if scanErr == nil {
			c.logger.Infof("scan_finish findings=%d", len(findings))
			c.bus.Publish(events.EventScanFinished, map[string]interface{}{
				"findings": len(findings),
			})
		}
	}()

	sem := semaphore.NewWeighted(int64(c.concurrency))
	var workers errgroup.Group
	done := make(chan model.CheckResult, total)

	var results []model.CheckResult
	handled := 0
	inFlight := 0
	vetoCertain := false
	scanWait := scanCh

	markVeto := func(why string) {
		if !vetoCertain {
			vetoCertain = true
			c.logger.Infof("veto_certain reason=%s", why)
		}
	}

	// resolve unblocks dependents of a finished check. A failed
	// dependency poisons the dependent unless the policy says otherwise.
	resolve := func(id string, failed bool) {
		for _, depID := range dependents[id] {
			pc, ok := pending[depID]
			if !ok {
				continue
			}
			delete(pc.waiting, id)
			if failed {
				pc.depFailed = true
			}
			if len(pc.waiting) == 0 {
				ready = append(ready, depID)
			}
		}
	}

	record := func(result model.CheckResult) {
		results = append(results, result)
		if result.Status.IsFailure() {
			if spec := c.policy.Check(result.CheckID); spec != nil && spec.RequiredForGate {
				markVeto(fmt.Sprintf("required_check_failed id=%s", result.CheckID))
			}
		}
	}

	var ctxErr error

loop:
	for {
		// Once the verdict is certain nothing new is dispatched; checks
		// already holding a slot run to completion.
		if vetoCertain {
			for id := range pending {
				c.logger.Infof("check_skip id=%s reason=verdict_certain", id)
				delete(pending, id)
				handled++
			}
			ready = ready[:0]
		}

		for len(ready) > 0 && !vetoCertain {
			id := ready[0]
			ready = ready[1:]
			pc, ok := pending[id]
			if !ok {
				continue
			}
			delete(pending, id)

			if pc.depFailed && !c.policy.RunDependentsOnFailure {
				result := dependencyFailureResult(pc.spec)
				c.logger.Infof("check_skip id=%s reason=dependency_failed", id)
				record(result)
				resolve(id, true)
				handled++
				continue
			}

			spec := resolveWorkdir(pc.spec, root)
			inFlight++
			workers.Go(func() error {
				done <- c.runCheck(ctx, sem, spec)
				return nil
			})
		}

		if handled == total && inFlight == 0 {
			break
		}

		select {
		case result := <-done:
			inFlight--
			handled++
			record(result)
			resolve(result.CheckID, result.Status.IsFailure())

		case <-scanWait:
			scanWait = nil
			if scanErr == nil && hasBlockingFinding(findings) {
				markVeto("blocking_finding")
			}

		case <-ctx.Done():
			ctxErr = ctx.Err()
			break loop
		}
	}

	// Drain in-flight workers; their processes are killed through ctx on
	// cancellation, so this converges quickly.
	for inFlight > 0 {
		<-done
		inFlight--
	}
	_ = workers.Wait()
	<-scanCh

	if ctxErr != nil {
		return nil, nil, fmt.Errorf("run cancelled: %w", ctxErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("run cancelled: %w", err)
	}
	if scanErr != nil {
		return nil, nil, fmt.Errorf("pattern scan: %w", scanErr)
	}

	return results, findings, nil
}

// runCheck acquires a worker slot and the working-directory lock, then
// executes the check.
func (c *Coordinator) runCheck(ctx context.Context, sem *semaphore.Weighted, spec model.CheckSpec) model.CheckResult {
	if err := sem.Acquire(ctx, 1); err != nil {
		now := time.Now().UTC()
		return model.CheckResult{
			CheckID:    spec.ID,
			Status:     model.CheckError,
			Stderr:     "run cancelled before dispatch",
			StartedAt:  now,
			FinishedAt: now,
		}
	}
	defer sem.Release(1)

	// Mutating checks get the directory to themselves.
	release := c.locks.Acquire(spec.WorkingDirectory, spec.Mutating)
	defer release()

	c.bus.Publish(events.EventCheckStarted, map[string]interface{}{
		"check_id": spec.ID,
	})

	result := c.runner.Run(ctx, spec)

	c.bus.Publish(events.EventCheckFinished, map[string]interface{}{
		"check_id": result.CheckID,
		"status":   string(result.Status),
		"duration": result.Duration().Round(time.Millisecond).String(),
	})
	return result
}

// dependencyFailureResult records a check that was gated out by a failed
// dependency. It appears in the report so the decision can name it.
func dependencyFailureResult(spec model.CheckSpec) model.CheckResult {
	now := time.Now().UTC()
	return model.CheckResult{
		CheckID:    spec.ID,
		Status:     model.CheckError,
		Stderr:     "dependency not satisfied",
		StartedAt:  now,
		FinishedAt: now,
	}
}

func resolveWorkdir(spec model.CheckSpec, root string) model.CheckSpec {
	if spec.WorkingDirectory == "" {
		spec.WorkingDirectory = root
	} else if !filepath.IsAbs(spec.WorkingDirectory) {
		spec.WorkingDirectory = filepath.Join(root, spec.WorkingDirectory)
	}
	return spec
}

func hasBlockingFinding(findings []model.ScanFinding) bool {
	for _, f := range findings {
		if f.Severity == model.SeverityBlocking {
			return true
		}
	}
	return false
}
