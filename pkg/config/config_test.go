package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
)

const planYAML = `apiVersion: canary.example.io/v1alpha1
kind: CanaryPlan
metadata:
  name: checkout
spec:
  service: checkout
  stages:
  - name: canary-10
    trafficPercent: 10
    duration: 2m
    slo:
      maxErrorRate: 0.005
      maxP99LatencyMs: 300
  - name: canary-50
    trafficPercent: 50
    duration: 4m
    slo:
      maxErrorRate: 0.005
      maxP99LatencyMs: 300
  - name: stable
    trafficPercent: 100
    slo:
      maxErrorRate: 0.005
      maxP99LatencyMs: 300
  rollback:
    sloViolationThreshold: 3
  prometheus:
    url: http://prometheus.monitoring:9090
  kubernetes:
    namespace: shop
`

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func load(t *testing.T, args []string, service, version string) *Config {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	AddRunFlags(fs)
	require.NoError(t, fs.Parse(args))
	v, err := NewViper(fs)
	require.NoError(t, err)
	cfg, err := Load(v, service, version)
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := load(t, nil, "checkout", "v2")
	s := cfg.Plan.Spec

	assert.Equal(t, "checkout", s.Service)
	assert.Equal(t, "v2", s.Version)
	assert.Equal(t, canaryv1.DefaultPrometheusURL, s.Prometheus.URL)
	assert.Equal(t, canaryv1.DefaultNamespace, s.Kubernetes.Namespace)
	assert.Equal(t, canaryv1.DefaultContext, s.Kubernetes.Context)
	assert.Equal(t, canaryv1.TrafficProviderSMI, s.Traffic.Provider)
	assert.True(t, s.AutoRollbackEnabled())
	assert.Len(t, s.Stages, 4)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, "0", cfg.MetricsBindAddress)
	assert.Equal(t, "none", cfg.Tracing)
	assert.NoError(t, canaryv1.Validate(cfg.Plan))
}

func TestLoadPrecedence(t *testing.T) {
	path := writePlan(t, planYAML)

	t.Run("plan file over defaults", func(t *testing.T) {
		cfg := load(t, []string{"--plan", path}, "checkout", "v2")
		s := cfg.Plan.Spec
		assert.Equal(t, "http://prometheus.monitoring:9090", s.Prometheus.URL)
		assert.Equal(t, "shop", s.Kubernetes.Namespace)
		assert.Equal(t, int32(3), s.Rollback.SLOViolationThreshold)
		require.Len(t, s.Stages, 3)
		assert.Equal(t, 2*time.Minute, s.Stages[0].Duration.Duration)
		assert.Equal(t, path, cfg.PlanFile)
	})

	t.Run("env over plan file", func(t *testing.T) {
		t.Setenv("PROMETHEUS_URL", "http://prom.env:9090")
		t.Setenv("K8S_NAMESPACE", "env-ns")
		t.Setenv("K8S_CONTEXT", "env-ctx")
		cfg := load(t, []string{"--plan", path}, "checkout", "v2")
		s := cfg.Plan.Spec
		assert.Equal(t, "http://prom.env:9090", s.Prometheus.URL)
		assert.Equal(t, "env-ns", s.Kubernetes.Namespace)
		assert.Equal(t, "env-ctx", s.Kubernetes.Context)
	})

	t.Run("flag over env", func(t *testing.T) {
		t.Setenv("K8S_NAMESPACE", "env-ns")
		cfg := load(t, []string{"--plan", path, "--namespace", "flag-ns", "--no-auto-rollback", "--dry-run"}, "checkout", "v2")
		assert.Equal(t, "flag-ns", cfg.Plan.Spec.Kubernetes.Namespace)
		assert.False(t, cfg.Plan.Spec.AutoRollbackEnabled())
		assert.True(t, cfg.DryRun)
	})

	t.Run("arguments over plan file", func(t *testing.T) {
		cfg := load(t, []string{"--plan", path}, "cart", "v9")
		assert.Equal(t, "cart", cfg.Plan.Spec.Service)
		assert.Equal(t, "v9", cfg.Plan.Spec.Version)
	})
}

func TestReadPlanErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing kind",
			content: "spec:\n  service: checkout\n",
			wantErr: "Kind",
		},
		{
			name:    "unknown field",
			content: "apiVersion: canary.example.io/v1alpha1\nkind: CanaryPlan\nspec:\n  servce: checkout\n",
			wantErr: "servce",
		},
		{
			name:    "bad duration",
			content: "apiVersion: canary.example.io/v1alpha1\nkind: CanaryPlan\nspec:\n  stages:\n  - name: a\n    duration: soon\n",
			wantErr: "soon",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPlan(writePlan(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := ReadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEncodePlanRoundTrip(t *testing.T) {
	plan := canaryv1.NewCanaryPlan("checkout", "v2")

	data, err := EncodePlan(plan)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kind: CanaryPlan")
	assert.Contains(t, string(data), "duration: 5m0s")

	decoded, err := DecodePlan(data)
	require.NoError(t, err)
	assert.Equal(t, plan.Spec.Stages, decoded.Spec.Stages)
}
