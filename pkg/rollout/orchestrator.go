// Package rollout drives a staged canary rollout: pre-checks, sequential
// traffic stages gated on SLOs, post-validation, and rollback on failure.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/log"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
	"github.com/example/canary-deployer/pkg/metrics"
	"github.com/example/canary-deployer/pkg/slo"
	"github.com/example/canary-deployer/pkg/traffic"
)

const (
	// DefaultPollInterval spaces the SLO checks of a monitoring window.
	DefaultPollInterval = 30 * time.Second
	// rollbackTimeout bounds cleanup after the rollout context is gone.
	rollbackTimeout = 60 * time.Second
)

// SnapshotCollector reads the canary signals. It never fails; a signal that
// cannot be read is reported as 0.
type SnapshotCollector interface {
	Collect(ctx context.Context, service string) metrics.Snapshot
}

// Pinger checks that the metrics backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TrafficController applies the stable/canary split.
type TrafficController interface {
	SetSplit(ctx context.Context, service, deploymentID string, canaryPercent int32) error
	Remove(ctx context.Context, service, deploymentID string) error
	Current(ctx context.Context, service string) (*traffic.Split, error)
}

// VariantDeployer manages the canary workload.
type VariantDeployer interface {
	DeployCanary(ctx context.Context, service, version, deploymentID string) error
	WaitForReady(ctx context.Context, service string, timeout time.Duration) error
	DeleteCanary(ctx context.Context, service, deploymentID string) error
}

// HealthChecker verifies every replica of a service is running.
type HealthChecker interface {
	CheckService(ctx context.Context, service string) error
}

// Dependencies are the collaborators the orchestrator actuates and observes through.
type Dependencies struct {
	Metrics  SnapshotCollector
	Backend  Pinger
	Traffic  TrafficController
	Deployer VariantDeployer
	Health   HealthChecker
}

// Result is the final state of a rollout.
type Result struct {
	State DeploymentState
	// Rollback is nil when no rollback ran.
	Rollback *RollbackReport
}

// Orchestrator runs one rollout at a time. All calls to collaborators are
// sequential, so no two writes to the namespace ever overlap.
type Orchestrator struct {
	plan         canaryv1.CanaryPlanSpec
	deps         Dependencies
	observer     Observers
	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
	tracer       trace.Tracer
}

type Option func(*Orchestrator)

// WithObservers registers progress observers.
func WithObservers(obs ...Observer) Option {
	return func(o *Orchestrator) { o.observer = append(o.observer, obs...) }
}

// WithPollInterval overrides the spacing of monitoring checks.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithSleep replaces the wait between monitoring checks.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithClock replaces the time source used for the deployment id.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an Orchestrator for a defaulted, validated plan. The plan is copied.
func New(plan *canaryv1.CanaryPlan, deps Dependencies, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		plan:         *plan.Spec.DeepCopy(),
		deps:         deps,
		pollInterval: DefaultPollInterval,
		sleep:        sleepContext,
		now:          time.Now,
		tracer:       otel.Tracer("github.com/example/canary-deployer/pkg/rollout"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) enter(state *DeploymentState, p Phase) {
	state.Phase = p
	o.observer.PhaseChanged(*state)
}

// Deploy runs the rollout to completion. On any failure after the pre-check
// it rolls back (unless disabled) and returns the original failure.
func (o *Orchestrator) Deploy(ctx context.Context) (Result, error) {
	service, version := o.plan.Service, o.plan.Version
	state := &DeploymentState{StartTime: o.now()}
	state.DeploymentID = NewDeploymentID(service, version, state.StartTime)

	ctx, span := o.tracer.Start(ctx, "canary.deploy", trace.WithAttributes(
		attribute.String("canary.service", service),
		attribute.String("canary.version", version),
		attribute.String("canary.deployment_id", state.DeploymentID),
	))
	defer span.End()

	logger := log.FromContext(ctx).WithValues("service", service, "version", version, "deploymentID", state.DeploymentID)
	ctx = log.IntoContext(ctx, logger)

	o.enter(state, PhasePreCheck)
	if err := o.preCheck(ctx, service); err != nil {
		err = fmt.Errorf("pre-check: %w", err)
		logger.Error(err, "aborting before any traffic change")
		span.SetStatus(codes.Error, err.Error())
		o.enter(state, PhaseFailed)
		return Result{State: *state}, err
	}

	err := o.runStages(ctx, state)
	if err == nil {
		o.enter(state, PhasePostValidate)
		if err = o.postValidate(ctx, service); err != nil {
			err = fmt.Errorf("post-validation: %w", err)
		}
	}
	if err == nil {
		o.enter(state, PhaseDone)
		logger.Info("deployment complete", "elapsed", o.now().Sub(state.StartTime).Round(time.Second))
		return Result{State: *state}, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error(err, "deployment failed", "stage", state.CurrentStageIndex)

	res := Result{}
	if o.plan.AutoRollbackEnabled() {
		o.enter(state, PhaseRollingBack)
		// the rollout context may already be cancelled by a signal
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		report := o.rollback(rctx, service, state.DeploymentID, true)
		cancel()
		res.Rollback = &report
		o.observer.RollbackCompleted(*state, report)
		if report.Outcome != RollbackComplete {
			logger.Error(report.Err(), "rollback incomplete, manual inspection required", "outcome", report.Outcome)
		}
	} else {
		logger.Info("auto rollback disabled, canary left in place")
	}
	o.enter(state, PhaseFailed)
	res.State = *state
	return res, err
}

func (o *Orchestrator) preCheck(ctx context.Context, service string) error {
	if err := o.deps.Health.CheckService(ctx, service); err != nil {
		return err
	}
	return o.deps.Backend.Ping(ctx)
}

func (o *Orchestrator) runStages(ctx context.Context, state *DeploymentState) error {
	for i, stage := range o.plan.Stages {
		state.CurrentStageIndex = i
		state.ConsecutiveViolations = 0
		o.enter(state, PhaseStage)
		o.observer.StageStarted(*state, stage)
		if err := o.runStage(ctx, state, stage); err != nil {
			return fmt.Errorf("stage %s: %w", stage.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, state *DeploymentState, stage canaryv1.Stage) error {
	ctx, span := o.tracer.Start(ctx, "canary.stage", trace.WithAttributes(
		attribute.String("canary.stage", stage.Name),
		attribute.Int("canary.traffic_percent", int(stage.TrafficPercent)),
	))
	defer span.End()
	logger := log.FromContext(ctx).WithValues("stage", stage.Name)
	ctx = log.IntoContext(ctx, logger)
	service := o.plan.Service

	if err := ctx.Err(); err != nil {
		return err
	}
	// the workload is created once; later stages only move traffic
	if state.CurrentStageIndex == 0 {
		if err := o.deps.Deployer.DeployCanary(ctx, service, o.plan.Version, state.DeploymentID); err != nil {
			return err
		}
		if err := o.deps.Deployer.WaitForReady(ctx, service, o.plan.Workload.ReadinessTimeout.Duration); err != nil {
			return err
		}
	}

	if err := o.deps.Traffic.SetSplit(ctx, service, state.DeploymentID, stage.TrafficPercent); err != nil {
		return err
	}
	o.observer.TrafficShifted(service, stage.TrafficPercent)
	logger.Info("traffic shifted", "canaryPercent", stage.TrafficPercent)

	if stage.Duration.Duration == 0 {
		return nil
	}
	err := o.monitor(ctx, state, stage)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// monitor waits one poll interval and checks the SLO, floor(duration/interval)
// times. Each violation increments the consecutive counter and each pass
// resets it; reaching the policy threshold aborts the stage.
func (o *Orchestrator) monitor(ctx context.Context, state *DeploymentState, stage canaryv1.Stage) error {
	logger := log.FromContext(ctx)
	limit := o.plan.Rollback.SLOViolationThreshold
	total := int(stage.Duration.Duration / o.pollInterval)

	for i := 1; i <= total; i++ {
		if err := o.sleep(ctx, o.pollInterval); err != nil {
			return fmt.Errorf("monitoring interrupted: %w", err)
		}
		snap := o.deps.Metrics.Collect(ctx, o.plan.Service)
		v := slo.Evaluate(snap, stage.SLO)
		check := Check{Stage: stage.Name, Iteration: i, Total: total, Snapshot: snap, Violation: v}

		if v == nil {
			state.ConsecutiveViolations = 0
			o.observer.CheckCompleted(*state, check)
			logger.V(1).Info("SLO check passed", "check", i, "of", total,
				"errorRate", snap.ErrorRate, "p99LatencyMs", snap.P99LatencyMs)
			continue
		}

		state.ConsecutiveViolations++
		o.observer.CheckCompleted(*state, check)
		logger.Info("SLO violation", "check", i, "of", total, "violation", v.Error(),
			"consecutive", state.ConsecutiveViolations, "limit", limit)
		if state.ConsecutiveViolations >= limit {
			return fmt.Errorf("%d consecutive SLO violations: %w", state.ConsecutiveViolations, v)
		}
	}
	return nil
}

// postValidate is the last gate: traffic is already at the final stage's
// weight, but a failure here still fails and rolls back the deployment.
func (o *Orchestrator) postValidate(ctx context.Context, service string) error {
	if err := o.deps.Health.CheckService(ctx, service); err != nil {
		return err
	}
	last := o.plan.LastStage()
	if last == nil {
		return errors.New("plan has no stages")
	}
	snap := o.deps.Metrics.Collect(ctx, service)
	v := slo.Evaluate(snap, last.SLO)
	o.observer.CheckCompleted(DeploymentState{Phase: PhasePostValidate, CurrentStageIndex: len(o.plan.Stages) - 1},
		Check{Stage: last.Name, Iteration: 1, Total: 1, Snapshot: snap, Violation: v})
	if v != nil {
		return v
	}
	return nil
}
