package rollout

import (
	"context"
	"errors"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// ErrRollbackFailed wraps every failed rollback step.
var ErrRollbackFailed = errors.New("rollback failed")

// RollbackOutcome distinguishes how far a rollback got.
type RollbackOutcome string

const (
	// RollbackComplete means traffic is back on stable and every canary object is gone.
	RollbackComplete RollbackOutcome = "Complete"
	// RollbackPartial means traffic is back on stable but some cleanup failed.
	RollbackPartial RollbackOutcome = "Partial"
	// RollbackErrored means traffic could not be reset; the canary may still serve requests.
	RollbackErrored RollbackOutcome = "Errored"
)

const (
	StepResetTraffic  = "reset-traffic"
	StepDeleteCanary  = "delete-canary"
	StepRemoveRouting = "remove-routing"
)

// RollbackStep records one cleanup action. Skipped steps were not attempted.
type RollbackStep struct {
	Name    string
	Err     error
	Skipped bool
}

// RollbackReport collects per-step failures as warnings instead of
// propagating them, so the original deployment failure is never masked.
type RollbackReport struct {
	Steps   []RollbackStep
	Outcome RollbackOutcome
}

// Warnings returns every step failure.
func (r RollbackReport) Warnings() []error {
	var out []error
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s.Err)
		}
	}
	return out
}

// Err joins the warnings, or returns nil for a complete rollback.
func (r RollbackReport) Err() error {
	return errors.Join(r.Warnings()...)
}

// rollback resets traffic to stable before touching the canary workload, so
// the workload is never deleted while it still receives traffic. If the reset
// fails the deletions are skipped.
func (o *Orchestrator) rollback(ctx context.Context, service, deploymentID string, resetTraffic bool) RollbackReport {
	logger := log.FromContext(ctx)
	var report RollbackReport
	step := func(name string, fn func() error) error {
		err := fn()
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrRollbackFailed, name, err)
			logger.Error(err, "rollback step failed", "step", name)
		} else {
			logger.Info("rollback step done", "step", name)
		}
		report.Steps = append(report.Steps, RollbackStep{Name: name, Err: err})
		return err
	}

	if resetTraffic {
		err := step(StepResetTraffic, func() error {
			return o.deps.Traffic.SetSplit(ctx, service, deploymentID, 0)
		})
		if err != nil {
			report.Steps = append(report.Steps,
				RollbackStep{Name: StepDeleteCanary, Skipped: true},
				RollbackStep{Name: StepRemoveRouting, Skipped: true})
			report.Outcome = RollbackErrored
			return report
		}
		o.observer.TrafficShifted(service, 0)
	} else {
		report.Steps = append(report.Steps, RollbackStep{Name: StepResetTraffic, Skipped: true})
	}

	_ = step(StepDeleteCanary, func() error {
		return o.deps.Deployer.DeleteCanary(ctx, service, deploymentID)
	})
	_ = step(StepRemoveRouting, func() error {
		return o.deps.Traffic.Remove(ctx, service, deploymentID)
	})

	report.Outcome = RollbackComplete
	if len(report.Warnings()) > 0 {
		report.Outcome = RollbackPartial
	}
	return report
}

// Rollback is the manual entry point for cleaning up after a killed rollout.
// It does not know the deployment id, so it removes canary objects of any id.
func (o *Orchestrator) Rollback(ctx context.Context) RollbackReport {
	service := o.plan.Service
	logger := log.FromContext(ctx).WithValues("service", service)
	ctx = log.IntoContext(ctx, logger)

	resetTraffic := true
	if cur, err := o.deps.Traffic.Current(ctx, service); err == nil && (cur == nil || cur.CanaryPercent == 0) {
		logger.Info("no canary traffic to reset")
		resetTraffic = false
	}
	state := DeploymentState{Phase: PhaseRollingBack, StartTime: o.now()}
	o.observer.PhaseChanged(state)
	report := o.rollback(ctx, service, "", resetTraffic)
	o.observer.RollbackCompleted(state, report)
	return report
}
