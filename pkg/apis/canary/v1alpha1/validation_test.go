package v1alpha1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestNewCanaryPlan_Defaults(t *testing.T) {
	p := NewCanaryPlan("checkout", "v2")

	assert.Equal(t, "checkout", p.Name)
	assert.Len(t, p.Spec.Stages, 4)
	assert.Equal(t, int32(5), p.Spec.Stages[0].TrafficPercent)
	assert.Equal(t, int32(100), p.Spec.LastStage().TrafficPercent)
	assert.Zero(t, p.Spec.LastStage().Duration.Duration)
	assert.True(t, p.Spec.AutoRollbackEnabled())
	assert.Equal(t, int32(2), p.Spec.Rollback.SLOViolationThreshold)
	assert.Equal(t, DefaultPrometheusURL, p.Spec.Prometheus.URL)
	assert.Equal(t, 30*time.Second, p.Spec.Prometheus.Timeout.Duration)
	assert.Equal(t, "cbrt-mesh", p.Spec.Kubernetes.Namespace)
	assert.Equal(t, "cbrt-cluster", p.Spec.Kubernetes.Context)
	assert.Equal(t, "checkout", p.Spec.Workload.Image)
	assert.Equal(t, 300*time.Second, p.Spec.Workload.ReadinessTimeout.Duration)
	assert.Equal(t, TrafficProviderSMI, p.Spec.Traffic.Provider)
	require.NoError(t, Validate(p))
}

func TestSetDefaults_KeepsExplicitValues(t *testing.T) {
	disabled := false
	p := &CanaryPlan{Spec: CanaryPlanSpec{
		Service: "checkout",
		Version: "v2",
		Stages:  []Stage{{Name: "all", TrafficPercent: 100}},
		Rollback: RollbackPolicy{
			AutoRollback:          &disabled,
			SLOViolationThreshold: 3,
		},
		Kubernetes: KubernetesSpec{Namespace: "shop"},
	}}
	SetDefaults(p)

	assert.Len(t, p.Spec.Stages, 1)
	assert.False(t, p.Spec.AutoRollbackEnabled())
	assert.Equal(t, int32(3), p.Spec.Rollback.SLOViolationThreshold)
	assert.Equal(t, "shop", p.Spec.Kubernetes.Namespace)
}

func TestValidate_RejectsDecreasingTraffic(t *testing.T) {
	p := NewCanaryPlan("checkout", "v2")
	p.Spec.Stages = []Stage{
		{Name: "a", TrafficPercent: 50, Duration: metav1.Duration{Duration: time.Minute}},
		{Name: "b", TrafficPercent: 10, Duration: metav1.Duration{Duration: time.Minute}},
		{Name: "c", TrafficPercent: 100},
	}

	err := Validate(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spec.stages[1].trafficPercent")
}

func TestValidate_AllowsFlatTraffic(t *testing.T) {
	p := NewCanaryPlan("checkout", "v2")
	p.Spec.Stages = []Stage{
		{Name: "a", TrafficPercent: 10},
		{Name: "b", TrafficPercent: 10},
	}
	assert.NoError(t, Validate(p))
}

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *CanaryPlan)
		field  string
	}{
		{"missing version", func(p *CanaryPlan) { p.Spec.Version = "" }, "spec.version"},
		{"bad service name", func(p *CanaryPlan) { p.Spec.Service = "Check_Out" }, "spec.service"},
		{"percent above 100", func(p *CanaryPlan) { p.Spec.Stages[3].TrafficPercent = 120 }, "spec.stages[3].trafficPercent"},
		{"duplicate stage", func(p *CanaryPlan) { p.Spec.Stages[1].Name = p.Spec.Stages[0].Name }, "spec.stages[1].name"},
		{"negative duration", func(p *CanaryPlan) { p.Spec.Stages[0].Duration.Duration = -time.Second }, "spec.stages[0].duration"},
		{"error rate above 1", func(p *CanaryPlan) { p.Spec.Stages[0].SLO.MaxErrorRate = 2 }, "spec.stages[0].slo.maxErrorRate"},
		{"threshold zero", func(p *CanaryPlan) { p.Spec.Rollback.SLOViolationThreshold = -1 }, "spec.rollback.sloViolationThreshold"},
		{"unknown provider", func(p *CanaryPlan) { p.Spec.Traffic.Provider = "nginx" }, "spec.traffic.provider"},
		{"no stages", func(p *CanaryPlan) { p.Spec.Stages = nil }, "spec.stages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewCanaryPlan("checkout", "v2")
			tt.mutate(p)
			err := Validate(p)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestCanaryPlan_DeepCopy(t *testing.T) {
	p := NewCanaryPlan("checkout", "v2")
	c := p.DeepCopy()

	c.Spec.Stages[0].TrafficPercent = 99
	*c.Spec.Rollback.AutoRollback = false

	assert.Equal(t, int32(5), p.Spec.Stages[0].TrafficPercent)
	assert.True(t, p.Spec.AutoRollbackEnabled())
}
