// Package telemetry exposes rollout progress as Prometheus metrics and
// configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/log"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
	"github.com/example/canary-deployer/pkg/metrics"
	"github.com/example/canary-deployer/pkg/rollout"
)

const namespace = "canary_deployer"

// Recorder implements rollout.Observer by updating Prometheus collectors.
// Each Recorder owns its registry.
type Recorder struct {
	rollout.NopObserver

	registry *prometheus.Registry

	trafficPercent     *prometheus.GaugeVec
	stageIndex         *prometheus.GaugeVec
	consecutive        *prometheus.GaugeVec
	checks             *prometheus.CounterVec
	violations         *prometheus.CounterVec
	collectionFailures *prometheus.CounterVec
	rollbacks          *prometheus.CounterVec
	deployments        *prometheus.CounterVec

	service string
}

// NewRecorder registers the rollout collectors for service on a fresh registry.
func NewRecorder(service string) *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		service:  service,
		trafficPercent: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "canary_traffic_percent",
			Help:      "Share of traffic currently routed to the canary variant.",
		}, []string{"service"}),
		stageIndex: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_index",
			Help:      "Index of the stage being executed.",
		}, []string{"service"}),
		consecutive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_slo_violations",
			Help:      "Violating checks in a row within the current stage.",
		}, []string{"service"}),
		checks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slo_checks_total",
			Help:      "SLO checks by stage and result.",
		}, []string{"service", "stage", "result"}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slo_violations_total",
			Help:      "SLO violations by breached signal.",
		}, []string{"service", "signal"}),
		collectionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_collection_failures_total",
			Help:      "Canary signals that could not be read and were reported as 0.",
		}, []string{"service", "signal"}),
		rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollbacks by outcome.",
		}, []string{"service", "outcome"}),
		deployments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Finished deployments by final phase.",
		}, []string{"service", "phase"}),
	}
}

// Registry returns the registry the collectors are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) PhaseChanged(s rollout.DeploymentState) {
	switch s.Phase {
	case rollout.PhaseDone, rollout.PhaseFailed:
		r.deployments.WithLabelValues(r.service, string(s.Phase)).Inc()
	}
}

func (r *Recorder) StageStarted(s rollout.DeploymentState, _ canaryv1.Stage) {
	r.stageIndex.WithLabelValues(r.service).Set(float64(s.CurrentStageIndex))
	r.consecutive.WithLabelValues(r.service).Set(0)
}

func (r *Recorder) TrafficShifted(service string, canaryPercent int32) {
	r.trafficPercent.WithLabelValues(service).Set(float64(canaryPercent))
}

func (r *Recorder) CheckCompleted(s rollout.DeploymentState, c rollout.Check) {
	result := "pass"
	if c.Violation != nil {
		result = "violation"
		r.violations.WithLabelValues(r.service, string(c.Violation.Signal)).Inc()
	}
	r.checks.WithLabelValues(r.service, c.Stage, result).Inc()
	r.consecutive.WithLabelValues(r.service).Set(float64(s.ConsecutiveViolations))
}

func (r *Recorder) RollbackCompleted(_ rollout.DeploymentState, report rollout.RollbackReport) {
	r.rollbacks.WithLabelValues(r.service, string(report.Outcome)).Inc()
}

// CollectionFailed is wired to metrics.Collector.OnFailure.
func (r *Recorder) CollectionFailed(sig metrics.Signal) {
	r.collectionFailures.WithLabelValues(r.service, string(sig)).Inc()
}

// Serve exposes the registry on addr until ctx is done. An addr of "0" or ""
// disables the endpoint.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	if addr == "" || addr == "0" {
		return nil
	}
	logger := log.FromContext(ctx).WithValues("addr", addr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
