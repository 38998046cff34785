package deployer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/util/workqueue"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
)

const ns = "cbrt-mesh"

func newDeployer(objs ...client.Object) (*Deployer, client.Client) {
	s := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(s))
	c := fake.NewClientBuilder().WithScheme(s).WithObjects(objs...).Build()
	plan := canaryv1.NewCanaryPlan("checkout", "v2")
	d := New(c, ns, plan.Spec.Workload)
	d.Backoff = func() workqueue.TypedRateLimiter[string] {
		return workqueue.NewTypedItemExponentialFailureRateLimiter[string](time.Millisecond, 10*time.Millisecond)
	}
	return d, c
}

func getDeployment(t *testing.T, c client.Client) *appsv1.Deployment {
	t.Helper()
	dep := &appsv1.Deployment{}
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Namespace: ns, Name: "checkout-canary"}, dep))
	return dep
}

func markReady(t *testing.T, c client.Client) {
	t.Helper()
	dep := getDeployment(t, c)
	dep.Status.ObservedGeneration = dep.Generation
	dep.Status.Replicas = *dep.Spec.Replicas
	dep.Status.ReadyReplicas = *dep.Spec.Replicas
	require.NoError(t, c.Status().Update(context.Background(), dep))
}

func TestDeployCanary_CreatesWorkload(t *testing.T) {
	d, c := newDeployer()
	ctx := context.Background()

	require.NoError(t, d.DeployCanary(ctx, "checkout", "v2", "checkout-v2-1"))

	dep := getDeployment(t, c)
	assert.Equal(t, "checkout-v2-1", dep.Labels[canaryv1.LabelDeploymentID])
	assert.Equal(t, "v2", dep.Labels[canaryv1.LabelVersion])
	assert.Equal(t, map[string]string{"app": "checkout", canaryv1.LabelVariant: "canary"}, dep.Spec.Selector.MatchLabels)
	require.Len(t, dep.Spec.Template.Spec.Containers, 1)
	ctr := dep.Spec.Template.Spec.Containers[0]
	assert.Equal(t, "checkout:v2", ctr.Image)
	assert.Equal(t, "/healthz", ctr.LivenessProbe.HTTPGet.Path)
	assert.Equal(t, "/ready", ctr.ReadinessProbe.HTTPGet.Path)
	assert.Equal(t, "500m", ctr.Resources.Limits.Cpu().String())
	assert.Equal(t, "128Mi", ctr.Resources.Requests.Memory().String())

	svc := &corev1.Service{}
	require.NoError(t, c.Get(ctx, client.ObjectKey{Namespace: ns, Name: "checkout-canary"}, svc))
	assert.Equal(t, "canary", svc.Spec.Selector[canaryv1.LabelVariant])
	assert.Equal(t, int32(8080), svc.Spec.Ports[0].Port)
}

func TestDeployCanary_UpdatesImage(t *testing.T) {
	d, c := newDeployer()
	ctx := context.Background()
	require.NoError(t, d.DeployCanary(ctx, "checkout", "v2", "id-1"))
	require.NoError(t, d.DeployCanary(ctx, "checkout", "v3", "id-2"))

	dep := getDeployment(t, c)
	assert.Equal(t, "checkout:v3", dep.Spec.Template.Spec.Containers[0].Image)
	assert.Equal(t, "id-2", dep.Labels[canaryv1.LabelDeploymentID])
}

func TestWaitForReady(t *testing.T) {
	d, c := newDeployer()
	ctx := context.Background()
	require.NoError(t, d.DeployCanary(ctx, "checkout", "v2", "id-1"))
	markReady(t, c)

	require.NoError(t, d.WaitForReady(ctx, "checkout", time.Second))

	st, err := d.Status(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, &WorkloadStatus{Version: "v2", DeploymentID: "id-1", Desired: 1, Ready: 1}, st)
}

func TestWaitForReady_Timeout(t *testing.T) {
	d, _ := newDeployer()
	ctx := context.Background()
	require.NoError(t, d.DeployCanary(ctx, "checkout", "v2", "id-1"))

	err := d.WaitForReady(ctx, "checkout", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrReadinessTimeout)
}

func TestWaitForReady_MissingDeploymentTimesOut(t *testing.T) {
	d, _ := newDeployer()
	err := d.WaitForReady(context.Background(), "checkout", 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrReadinessTimeout)
}

func TestWaitForReady_DeadlineInterruptsBackoff(t *testing.T) {
	d, _ := newDeployer()
	d.Backoff = func() workqueue.TypedRateLimiter[string] {
		return workqueue.NewTypedItemExponentialFailureRateLimiter[string](time.Hour, time.Hour)
	}
	start := time.Now()
	err := d.WaitForReady(context.Background(), "checkout", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrReadinessTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitForReady_Cancelled(t *testing.T) {
	d, _ := newDeployer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.WaitForReady(ctx, "checkout", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrReadinessTimeout)
}

func TestDeleteCanary(t *testing.T) {
	d, c := newDeployer()
	ctx := context.Background()
	require.NoError(t, d.DeployCanary(ctx, "checkout", "v2", "id-1"))

	// foreign id keeps the workload
	require.NoError(t, d.DeleteCanary(ctx, "checkout", "id-9"))
	getDeployment(t, c)

	require.NoError(t, d.DeleteCanary(ctx, "checkout", "id-1"))
	err := c.Get(ctx, client.ObjectKey{Namespace: ns, Name: "checkout-canary"}, &appsv1.Deployment{})
	assert.True(t, apierrors.IsNotFound(err))
	err = c.Get(ctx, client.ObjectKey{Namespace: ns, Name: "checkout-canary"}, &corev1.Service{})
	assert.True(t, apierrors.IsNotFound(err))

	// idempotent
	require.NoError(t, d.DeleteCanary(ctx, "checkout", "id-1"))

	st, err := d.Status(ctx, "checkout")
	require.NoError(t, err)
	assert.Nil(t, st)
}
