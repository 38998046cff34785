package rollout

import (
	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
	"github.com/example/canary-deployer/pkg/metrics"
	"github.com/example/canary-deployer/pkg/slo"
)

// Check is the outcome of one monitoring iteration.
type Check struct {
	Stage     string
	Iteration int
	Total     int
	Snapshot  metrics.Snapshot
	Violation *slo.Violation
}

// Observer receives rollout progress. Calls happen on the orchestrator
// goroutine, in order.
type Observer interface {
	PhaseChanged(state DeploymentState)
	StageStarted(state DeploymentState, stage canaryv1.Stage)
	TrafficShifted(service string, canaryPercent int32)
	CheckCompleted(state DeploymentState, check Check)
	RollbackCompleted(state DeploymentState, report RollbackReport)
}

// NopObserver ignores every event. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) PhaseChanged(DeploymentState) {}
func (NopObserver) StageStarted(DeploymentState, canaryv1.Stage) {}
func (NopObserver) TrafficShifted(string, int32) {}
func (NopObserver) CheckCompleted(DeploymentState, Check) {}
func (NopObserver) RollbackCompleted(DeploymentState, RollbackReport) {}

// Observers fans every event out to each member.
type Observers []Observer

func (o Observers) PhaseChanged(s DeploymentState) {
	for _, ob := range o {
		ob.PhaseChanged(s)
	}
}

func (o Observers) StageStarted(s DeploymentState, st canaryv1.Stage) {
	for _, ob := range o {
		ob.StageStarted(s, st)
	}
}

func (o Observers) TrafficShifted(service string, p int32) {
	for _, ob := range o {
		ob.TrafficShifted(service, p)
	}
}

func (o Observers) CheckCompleted(s DeploymentState, c Check) {
	for _, ob := range o {
		ob.CheckCompleted(s, c)
	}
}

func (o Observers) RollbackCompleted(s DeploymentState, r RollbackReport) {
	for _, ob := range o {
		ob.RollbackCompleted(s, r)
	}
}
