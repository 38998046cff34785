package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// LabelApp selects every pod of a service, stable and canary alike.
	LabelApp = "app"
	// LabelVariant marks objects belonging to the canary variant.
	LabelVariant = "canary.example.io/variant"
	// LabelDeploymentID tags every object created by one rollout so rollback can find it.
	LabelDeploymentID = "canary.example.io/deployment-id"
	// LabelVersion records the version a canary object was created for.
	LabelVersion = "canary.example.io/version"
	// AnnotationWeight carries the desired traffic weight on a Service.
	// A service mesh or ingress controller can read it to route traffic accordingly.
	AnnotationWeight = "canary.example.io/weight"

	VariantCanary = "canary"
	VariantStable = "stable"
)

// Traffic providers understood by the traffic controller.
const (
	TrafficProviderSMI        = "smi"
	TrafficProviderAnnotation = "service-annotation"
)

// CanaryPlanSpec defines one staged rollout of a service version.
type CanaryPlanSpec struct {
	// Service is the target service name
	Service string `json:"service,omitempty"`
	// Version is the new version identifier, used as the image tag
	Version string `json:"version,omitempty"`

	// Ordered traffic ramp. Percentages must not decrease.
	Stages []Stage `json:"stages,omitempty"`

	Rollback   RollbackPolicy `json:"rollback,omitempty"`
	Prometheus PrometheusSpec `json:"prometheus,omitempty"`
	Kubernetes KubernetesSpec `json:"kubernetes,omitempty"`
	Workload   WorkloadSpec   `json:"workload,omitempty"`
	Traffic    TrafficSpec    `json:"traffic,omitempty"`
}

// Stage is one step of the traffic ramp.
type Stage struct {
	Name           string `json:"name"`
	TrafficPercent int32  `json:"trafficPercent"`
	// Duration of the monitoring window, e.g. "5m". Zero applies the split and proceeds.
	Duration metav1.Duration `json:"duration,omitempty"`
	SLO      SLOThreshold    `json:"slo,omitempty"`
}

// SLOThreshold is a set of upper bounds. A measurement violates it if any bound is exceeded.
type SLOThreshold struct {
	// MaxErrorRate is a fraction between 0 and 1
	MaxErrorRate    float64 `json:"maxErrorRate,omitempty"`
	MaxP99LatencyMs float64 `json:"maxP99LatencyMs,omitempty"`
}

type RollbackPolicy struct {
	// AutoRollback reverts traffic and removes the canary on failure. Defaults to true.
	AutoRollback *bool `json:"autoRollback,omitempty"`
	// SLOViolationThreshold is the number of consecutive violating checks that abort a stage.
	SLOViolationThreshold int32 `json:"sloViolationThreshold,omitempty"`
}

type PrometheusSpec struct {
	URL     string          `json:"url,omitempty"`
	Timeout metav1.Duration `json:"timeout,omitempty"`
	Queries QueryTemplates  `json:"queries,omitempty"`
}

// QueryTemplates are PromQL expressions with {{service}} and {{variant}} placeholders.
type QueryTemplates struct {
	ErrorRate    string `json:"errorRate,omitempty"`
	P99LatencyMs string `json:"p99LatencyMs,omitempty"`
	RequestRate  string `json:"requestRate,omitempty"`
	SuccessRate  string `json:"successRate,omitempty"`
}

type KubernetesSpec struct {
	Namespace  string `json:"namespace,omitempty"`
	Context    string `json:"context,omitempty"`
	Kubeconfig string `json:"kubeconfig,omitempty"`
}

// WorkloadSpec describes the canary Deployment.
type WorkloadSpec struct {
	// Image repository; the plan version is used as tag. Defaults to the service name.
	Image            string                      `json:"image,omitempty"`
	Replicas         int32                       `json:"replicas,omitempty"`
	Port             int32                       `json:"port,omitempty"`
	Resources        corev1.ResourceRequirements `json:"resources,omitempty"`
	LivenessPath     string                      `json:"livenessPath,omitempty"`
	ReadinessPath    string                      `json:"readinessPath,omitempty"`
	ReadinessTimeout metav1.Duration             `json:"readinessTimeout,omitempty"`
}

type TrafficSpec struct {
	// Provider is "smi" (TrafficSplit) or "service-annotation"
	Provider string `json:"provider,omitempty"`
}

// +kubebuilder:object:root=true
// CanaryPlan is the Schema for a canary rollout plan file
type CanaryPlan struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec CanaryPlanSpec `json:"spec,omitempty"`
}

// AutoRollbackEnabled reports whether failures revert the canary.
func (p *CanaryPlanSpec) AutoRollbackEnabled() bool {
	return p.Rollback.AutoRollback == nil || *p.Rollback.AutoRollback
}

// LastStage returns the final stage of the ramp, or nil for an empty plan.
func (p *CanaryPlanSpec) LastStage() *Stage {
	if len(p.Stages) == 0 {
		return nil
	}
	return &p.Stages[len(p.Stages)-1]
}

// CanaryName is the name shared by the canary Deployment and Service.
func CanaryName(service string) string {
	return service + "-" + VariantCanary
}

// StableName is the name of the Service fronting the stable pods.
func StableName(service string) string {
	return service + "-" + VariantStable
}
