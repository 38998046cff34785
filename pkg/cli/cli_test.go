package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
	"github.com/example/canary-deployer/pkg/config"
	"github.com/example/canary-deployer/pkg/deployer"
	"github.com/example/canary-deployer/pkg/traffic"
)

const threeStagePlan = `apiVersion: canary.example.io/v1alpha1
kind: CanaryPlan
spec:
  stages:
  - name: canary-10
    trafficPercent: 10
    duration: 5m
  - name: canary-50
    trafficPercent: 50
    duration: 10m
  - name: stable
    trafficPercent: 100
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type harness struct {
	out, errOut  bytes.Buffer
	client       client.Client
	kubeCalls    int
	pollInterval time.Duration
}

func newHarness(objs ...client.Object) *harness {
	return &harness{client: fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()}
}

func (h *harness) run(args ...string) int {
	return Execute(context.Background(), Options{
		Out:          &h.out,
		ErrOut:       &h.errOut,
		PollInterval: h.pollInterval,
		NewKubeClient: func(canaryv1.KubernetesSpec) (client.Client, error) {
			h.kubeCalls++
			return h.client, nil
		},
	}, args)
}

func TestDryRunPrintsOneLinePerStage(t *testing.T) {
	h := newHarness()
	code := h.run("checkout", "v2.3.1", "--plan", writeFile(t, threeStagePlan), "--dry-run")
	require.Equal(t, 0, code, h.errOut.String())

	lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "canary-10\ttraffic=10%\tduration=5m0s", lines[0])
	assert.Equal(t, "canary-50\ttraffic=50%\tduration=10m0s", lines[1])
	assert.Equal(t, "stable\ttraffic=100%\tduration=0s", lines[2])
	assert.Zero(t, h.kubeCalls)
}

func TestDryRunDefaultStages(t *testing.T) {
	h := newHarness()
	require.Equal(t, 0, h.run("checkout", "v2", "--dry-run"))
	assert.Len(t, strings.Split(strings.TrimSpace(h.out.String()), "\n"), 4)
	assert.Zero(t, h.kubeCalls)
}

func TestArgumentAndPlanErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing version", args: []string{"checkout"}, wantErr: "accepts 2 arg(s)"},
		{name: "bad service name", args: []string{"Checkout_Svc", "v2", "--dry-run"}, wantErr: "spec.service"},
		{name: "unknown provider", args: []string{"checkout", "v2", "--traffic-provider", "istio"}, wantErr: "spec.traffic.provider"},
		{name: "missing plan file", args: []string{"checkout", "v2", "--plan", "/nonexistent/plan.yaml"}, wantErr: "read plan"},
		{name: "unknown flag", args: []string{"checkout", "v2", "--canary-percent", "5"}, wantErr: "unknown flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			assert.Equal(t, 1, h.run(tt.args...))
			assert.Contains(t, h.errOut.String(), tt.wantErr)
			assert.Zero(t, h.kubeCalls)
		})
	}
}

func TestDecreasingPlanRejected(t *testing.T) {
	plan := strings.Replace(threeStagePlan, "trafficPercent: 50", "trafficPercent: 5", 1)
	h := newHarness()
	assert.Equal(t, 1, h.run("checkout", "v2", "--plan", writeFile(t, plan)))
	assert.Contains(t, h.errOut.String(), "spec.stages[1].trafficPercent")
	assert.Zero(t, h.kubeCalls)
}

func TestDeployPreCheckFailure(t *testing.T) {
	h := newHarness()
	code := h.run("checkout", "v2", "--namespace", "shop")
	assert.Equal(t, 1, code)
	assert.Contains(t, h.errOut.String(), "pre-check")
	assert.Contains(t, h.out.String(), "nothing was changed")

	dep := &appsv1.Deployment{}
	err := h.client.Get(context.Background(), client.ObjectKey{Namespace: "shop", Name: "checkout-canary"}, dep)
	assert.True(t, apierrors.IsNotFound(err))
}

func seedCanary(t *testing.T, h *harness, percent int32) {
	t.Helper()
	ctx := context.Background()
	plan := canaryv1.NewCanaryPlan("checkout", "v2")
	require.NoError(t, deployer.New(h.client, canaryv1.DefaultNamespace, plan.Spec.Workload).
		DeployCanary(ctx, "checkout", "v2", "checkout-v2-1"))
	require.NoError(t, traffic.NewSMIRouter(h.client, canaryv1.DefaultNamespace).
		SetSplit(ctx, "checkout", "checkout-v2-1", percent))
}

func TestRollbackCommand(t *testing.T) {
	h := newHarness()
	seedCanary(t, h, 25)

	require.Equal(t, 0, h.run("rollback", "checkout"), h.errOut.String())
	assert.Contains(t, h.out.String(), "rollback Complete")

	ctx := context.Background()
	dep := &appsv1.Deployment{}
	err := h.client.Get(ctx, client.ObjectKey{Namespace: canaryv1.DefaultNamespace, Name: "checkout-canary"}, dep)
	assert.True(t, apierrors.IsNotFound(err))
	split, err := traffic.NewSMIRouter(h.client, canaryv1.DefaultNamespace).Current(ctx, "checkout")
	require.NoError(t, err)
	assert.Nil(t, split)
}

func TestRollbackCommandNothingToDo(t *testing.T) {
	h := newHarness()
	require.Equal(t, 0, h.run("rollback", "checkout"), h.errOut.String())
	assert.Contains(t, h.out.String(), "skipped")
}

func TestStatusCommand(t *testing.T) {
	h := newHarness()
	seedCanary(t, h, 25)

	require.Equal(t, 0, h.run("status", "checkout", "-o", "yaml"), h.errOut.String())
	out := h.out.String()
	assert.Contains(t, out, "canaryPercent: 25")
	assert.Contains(t, out, "stablePercent: 75")
	assert.Contains(t, out, "version: v2")
	assert.Contains(t, out, "deploymentID: checkout-v2-1")

	h.out.Reset()
	require.Equal(t, 0, h.run("status", "checkout"))
	assert.Contains(t, h.out.String(), "stable=75% canary=25%")
	assert.Contains(t, h.out.String(), "0/1 ready")
}

func TestStatusCommandEmpty(t *testing.T) {
	h := newHarness()
	require.Equal(t, 0, h.run("status", "checkout"))
	assert.Contains(t, h.out.String(), "no split applied")
	assert.Contains(t, h.out.String(), "not deployed")
}

func TestPlanCommand(t *testing.T) {
	h := newHarness()
	require.Equal(t, 0, h.run("plan", "checkout", "v2", "--namespace", "shop"))

	plan, err := config.DecodePlan(h.out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "shop", plan.Spec.Kubernetes.Namespace)
	assert.Equal(t, "v2", plan.Spec.Version)
	assert.NoError(t, canaryv1.Validate(plan))
	assert.Zero(t, h.kubeCalls)
}
