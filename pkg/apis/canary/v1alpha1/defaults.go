package v1alpha1

import (
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	DefaultPrometheusURL         = "http://localhost:9090"
	DefaultNamespace             = "cbrt-mesh"
	DefaultContext               = "cbrt-cluster"
	DefaultSLOViolationThreshold = 2
	DefaultQueryTimeout          = 30 * time.Second
	DefaultReadinessTimeout      = 300 * time.Second
	DefaultReplicas              = 1
	DefaultPort                  = 8080
	DefaultLivenessPath          = "/healthz"
	DefaultReadinessPath         = "/ready"
	DefaultMaxErrorRate          = 0.01
	DefaultMaxP99LatencyMs       = 500
)

// Default PromQL templates. Latency is reported in milliseconds.
const (
	DefaultErrorRateQuery = `sum(rate(http_requests_total{service="{{service}}",variant="{{variant}}",status=~"5.."}[1m]))` +
		` / sum(rate(http_requests_total{service="{{service}}",variant="{{variant}}"}[1m]))`
	DefaultP99LatencyQuery = `histogram_quantile(0.99, sum(rate(http_request_duration_seconds_bucket{service="{{service}}",variant="{{variant}}"}[1m])) by (le)) * 1000`
	DefaultRequestRateQuery = `sum(rate(http_requests_total{service="{{service}}",variant="{{variant}}"}[1m]))`
	DefaultSuccessRateQuery = `sum(rate(http_requests_total{service="{{service}}",variant="{{variant}}",status!~"5.."}[1m]))` +
		` / sum(rate(http_requests_total{service="{{service}}",variant="{{variant}}"}[1m]))`
)

// DefaultStages is the ramp used when a plan declares none.
func DefaultStages() []Stage {
	slo := SLOThreshold{MaxErrorRate: DefaultMaxErrorRate, MaxP99LatencyMs: DefaultMaxP99LatencyMs}
	return []Stage{
		{Name: "canary-5", TrafficPercent: 5, Duration: metav1.Duration{Duration: 5 * time.Minute}, SLO: slo},
		{Name: "canary-25", TrafficPercent: 25, Duration: metav1.Duration{Duration: 10 * time.Minute}, SLO: slo},
		{Name: "canary-50", TrafficPercent: 50, Duration: metav1.Duration{Duration: 10 * time.Minute}, SLO: slo},
		{Name: "stable", TrafficPercent: 100, SLO: slo},
	}
}

// NewCanaryPlan returns a defaulted plan for service and version.
func NewCanaryPlan(service, version string) *CanaryPlan {
	p := &CanaryPlan{
		TypeMeta: metav1.TypeMeta{APIVersion: GroupVersion.String(), Kind: "CanaryPlan"},
		Spec:     CanaryPlanSpec{Service: service, Version: version},
	}
	SetDefaults(p)
	return p
}

// SetDefaults fills every unset field of the plan.
func SetDefaults(p *CanaryPlan) {
	s := &p.Spec
	if p.Name == "" && s.Service != "" {
		p.Name = s.Service
	}
	if len(s.Stages) == 0 {
		s.Stages = DefaultStages()
	}

	if s.Rollback.AutoRollback == nil {
		enabled := true
		s.Rollback.AutoRollback = &enabled
	}
	if s.Rollback.SLOViolationThreshold == 0 {
		s.Rollback.SLOViolationThreshold = DefaultSLOViolationThreshold
	}

	if s.Prometheus.URL == "" {
		s.Prometheus.URL = DefaultPrometheusURL
	}
	if s.Prometheus.Timeout.Duration == 0 {
		s.Prometheus.Timeout = metav1.Duration{Duration: DefaultQueryTimeout}
	}
	q := &s.Prometheus.Queries
	if q.ErrorRate == "" {
		q.ErrorRate = DefaultErrorRateQuery
	}
	if q.P99LatencyMs == "" {
		q.P99LatencyMs = DefaultP99LatencyQuery
	}
	if q.RequestRate == "" {
		q.RequestRate = DefaultRequestRateQuery
	}
	if q.SuccessRate == "" {
		q.SuccessRate = DefaultSuccessRateQuery
	}

	if s.Kubernetes.Namespace == "" {
		s.Kubernetes.Namespace = DefaultNamespace
	}
	if s.Kubernetes.Context == "" {
		s.Kubernetes.Context = DefaultContext
	}

	w := &s.Workload
	if w.Image == "" {
		w.Image = s.Service
	}
	if w.Replicas == 0 {
		w.Replicas = DefaultReplicas
	}
	if w.Port == 0 {
		w.Port = DefaultPort
	}
	if w.Resources.Requests == nil {
		w.Resources.Requests = corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse("100m"),
			corev1.ResourceMemory: resource.MustParse("128Mi"),
		}
	}
	if w.Resources.Limits == nil {
		w.Resources.Limits = corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse("500m"),
			corev1.ResourceMemory: resource.MustParse("512Mi"),
		}
	}
	if w.LivenessPath == "" {
		w.LivenessPath = DefaultLivenessPath
	}
	if w.ReadinessPath == "" {
		w.ReadinessPath = DefaultReadinessPath
	}
	if w.ReadinessTimeout.Duration == 0 {
		w.ReadinessTimeout = metav1.Duration{Duration: DefaultReadinessTimeout}
	}

	if s.Traffic.Provider == "" {
		s.Traffic.Provider = TrafficProviderSMI
	}
}
