package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
	"github.com/example/canary-deployer/pkg/metrics"
	"github.com/example/canary-deployer/pkg/rollout"
)

// Event reasons.
const (
	ReasonProgress       = "Progress"
	ReasonSLOViolation   = "SLOViolation"
	ReasonPromQueryError = "PromQueryError"
	ReasonRollback       = "Rollback"
	ReasonSucceeded      = "Succeeded"
	ReasonFailed         = "Failed"
)

const (
	eventComponent = "canary-deployer"
	eventTimeout   = 5 * time.Second
)

// EventEmitter records rollout progress as Kubernetes Events on the canary
// Deployment so it shows up in `kubectl describe`. Emission is best effort.
type EventEmitter struct {
	rollout.NopObserver

	client    client.Client
	namespace string
	service   string
	now       func() time.Time
	log       logr.Logger
}

func NewEventEmitter(c client.Client, namespace, service string) *EventEmitter {
	return &EventEmitter{
		client:    c,
		namespace: namespace,
		service:   service,
		now:       time.Now,
		log:       log.Log.WithName("events").WithValues("service", service),
	}
}

func (e *EventEmitter) eventf(eventType, reason, format string, args ...any) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	name := canaryv1.CanaryName(e.service)
	ts := metav1.NewTime(e.now())
	ev := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{GenerateName: name + ".", Namespace: e.namespace},
		InvolvedObject: corev1.ObjectReference{
			APIVersion: "apps/v1",
			Kind:       "Deployment",
			Namespace:  e.namespace,
			Name:       name,
		},
		Reason:              reason,
		Message:             fmt.Sprintf(format, args...),
		Type:                eventType,
		Source:              corev1.EventSource{Component: eventComponent},
		ReportingController: canaryv1.GroupVersion.Group + "/" + eventComponent,
		FirstTimestamp:      ts,
		LastTimestamp:       ts,
		Count:               1,
	}
	if err := e.client.Create(ctx, ev); err != nil {
		e.log.V(1).Info("unable to record event", "reason", reason, "error", err.Error())
	}
}

func (e *EventEmitter) PhaseChanged(s rollout.DeploymentState) {
	switch s.Phase {
	case rollout.PhaseDone:
		e.eventf(corev1.EventTypeNormal, ReasonSucceeded, "Canary %s completed all stages", s.DeploymentID)
	case rollout.PhaseFailed:
		e.eventf(corev1.EventTypeWarning, ReasonFailed, "Canary %s failed at stage %d", s.DeploymentID, s.CurrentStageIndex)
	}
}

func (e *EventEmitter) TrafficShifted(_ string, canaryPercent int32) {
	e.eventf(corev1.EventTypeNormal, ReasonProgress, "Shifted canary to %d%%", canaryPercent)
}

func (e *EventEmitter) CheckCompleted(s rollout.DeploymentState, c rollout.Check) {
	if c.Violation == nil {
		return
	}
	e.eventf(corev1.EventTypeWarning, ReasonSLOViolation, "Stage %s: %s (%d consecutive)",
		c.Stage, c.Violation.Error(), s.ConsecutiveViolations)
}

func (e *EventEmitter) RollbackCompleted(_ rollout.DeploymentState, report rollout.RollbackReport) {
	eventType := corev1.EventTypeNormal
	if report.Outcome != rollout.RollbackComplete {
		eventType = corev1.EventTypeWarning
	}
	e.eventf(eventType, ReasonRollback, "Rollback %s", report.Outcome)
}

// CollectionFailed is wired to metrics.Collector.OnFailure.
func (e *EventEmitter) CollectionFailed(sig metrics.Signal) {
	e.eventf(corev1.EventTypeWarning, ReasonPromQueryError, "Failed to read %s, treating it as 0", sig)
}
