// Package deployer manages the canary workload of a service.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
)

var (
	// ErrApplyFailed is returned when the control plane rejects a workload change.
	ErrApplyFailed = errors.New("deploy apply failed")
	// ErrReadinessTimeout is returned when the canary is not ready in time.
	ErrReadinessTimeout = errors.New("readiness timeout")
)

// WorkloadStatus summarises the canary Deployment.
type WorkloadStatus struct {
	Version      string `json:"version"`
	DeploymentID string `json:"deploymentID"`
	Desired      int32  `json:"desired"`
	Ready        int32  `json:"ready"`
}

// Deployer creates, watches and removes the canary Deployment and Service.
type Deployer struct {
	client    client.Client
	namespace string
	workload  canaryv1.WorkloadSpec
	// Backoff builds the rate limiter that spaces readiness polls.
	Backoff func() workqueue.TypedRateLimiter[string]
}

func New(c client.Client, namespace string, workload canaryv1.WorkloadSpec) *Deployer {
	return &Deployer{client: c, namespace: namespace, workload: workload, Backoff: NewReadinessBackoff}
}

func selectorLabels(service string) map[string]string {
	return map[string]string{
		canaryv1.LabelApp:     service,
		canaryv1.LabelVariant: canaryv1.VariantCanary,
	}
}

func objectLabels(service, version, deploymentID string) map[string]string {
	l := selectorLabels(service)
	l[canaryv1.LabelVersion] = version
	l[canaryv1.LabelDeploymentID] = deploymentID
	return l
}

// DeployCanary creates or updates the canary Deployment and its Service.
func (d *Deployer) DeployCanary(ctx context.Context, service, version, deploymentID string) error {
	logger := log.FromContext(ctx).WithValues("canary", canaryv1.CanaryName(service))
	labels := objectLabels(service, version, deploymentID)
	image := fmt.Sprintf("%s:%s", d.workload.Image, version)

	dep := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: canaryv1.CanaryName(service), Namespace: d.namespace}}
	op, err := controllerutil.CreateOrUpdate(ctx, d.client, dep, func() error {
		dep.Labels = labels
		dep.Spec.Replicas = ptr.To(d.workload.Replicas)
		// selector is immutable once created
		if dep.Spec.Selector == nil {
			dep.Spec.Selector = &metav1.LabelSelector{MatchLabels: selectorLabels(service)}
		}
		dep.Spec.Template.Labels = labels
		dep.Spec.Template.Spec.Containers = []corev1.Container{d.container(service, image)}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: Deployment %s/%s: %v", ErrApplyFailed, d.namespace, dep.Name, err)
	}
	logger.Info("canary deployment applied", "image", image, "operation", op)

	svc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: canaryv1.CanaryName(service), Namespace: d.namespace}}
	op, err = controllerutil.CreateOrUpdate(ctx, d.client, svc, func() error {
		svc.Labels = labels
		svc.Spec.Selector = selectorLabels(service)
		svc.Spec.Ports = []corev1.ServicePort{{
			Name:       "http",
			Port:       d.workload.Port,
			TargetPort: intstr.FromInt32(d.workload.Port),
			Protocol:   corev1.ProtocolTCP,
		}}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: Service %s/%s: %v", ErrApplyFailed, d.namespace, svc.Name, err)
	}
	logger.V(1).Info("canary service applied", "operation", op)
	return nil
}

func (d *Deployer) container(service, image string) corev1.Container {
	probe := func(path string, delay int32) *corev1.Probe {
		return &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{HTTPGet: &corev1.HTTPGetAction{
				Path: path,
				Port: intstr.FromInt32(d.workload.Port),
			}},
			InitialDelaySeconds: delay,
			PeriodSeconds:       10,
		}
	}
	return corev1.Container{
		Name:           service,
		Image:          image,
		Ports:          []corev1.ContainerPort{{Name: "http", ContainerPort: d.workload.Port, Protocol: corev1.ProtocolTCP}},
		Resources:      *d.workload.Resources.DeepCopy(),
		LivenessProbe:  probe(d.workload.LivenessPath, 15),
		ReadinessProbe: probe(d.workload.ReadinessPath, 5),
	}
}

// WaitForReady polls the canary Deployment until every desired replica is
// ready. It fails with ErrReadinessTimeout once timeout elapses.
func (d *Deployer) WaitForReady(ctx context.Context, service string, timeout time.Duration) error {
	logger := log.FromContext(ctx)
	name := canaryv1.CanaryName(service)
	key := client.ObjectKey{Namespace: d.namespace, Name: name}
	limiter := d.Backoff()
	defer limiter.Forget(name)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		dep := &appsv1.Deployment{}
		err := d.client.Get(ctx, key, dep)
		switch {
		case err == nil && ready(dep):
			logger.Info("canary ready", "replicas", dep.Status.ReadyReplicas)
			return nil
		case err == nil:
			logger.V(1).Info("waiting for canary", "ready", dep.Status.ReadyReplicas, "desired", desired(dep))
		case !apierrors.IsNotFound(err) && ctx.Err() == nil:
			logger.Error(err, "failed reading canary deployment")
		}

		delay := time.NewTimer(limiter.When(name))
		select {
		case <-ctx.Done():
			delay.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s/%s not ready after %s", ErrReadinessTimeout, d.namespace, name, timeout)
			}
			return ctx.Err()
		case <-delay.C:
		}
	}
}

func desired(dep *appsv1.Deployment) int32 {
	if dep.Spec.Replicas == nil {
		return 1
	}
	return *dep.Spec.Replicas
}

func ready(dep *appsv1.Deployment) bool {
	return dep.Status.ObservedGeneration >= dep.Generation && dep.Status.ReadyReplicas == desired(dep)
}

// DeleteCanary removes the canary Deployment and Service. Objects tagged with
// another deployment id are left alone unless deploymentID is empty. Every
// failure is returned, joined.
func (d *Deployer) DeleteCanary(ctx context.Context, service, deploymentID string) error {
	name := canaryv1.CanaryName(service)
	var errs []error
	objs := []struct {
		kind string
		obj  client.Object
	}{
		{"Deployment", &appsv1.Deployment{}},
		{"Service", &corev1.Service{}},
	}
	for _, o := range objs {
		if err := d.deleteOwned(ctx, o.kind, o.obj, name, deploymentID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Deployer) deleteOwned(ctx context.Context, kind string, obj client.Object, name, deploymentID string) error {
	if err := d.client.Get(ctx, client.ObjectKey{Namespace: d.namespace, Name: name}, obj); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: get %s %s: %v", ErrApplyFailed, kind, name, err)
	}
	if owner := obj.GetLabels()[canaryv1.LabelDeploymentID]; deploymentID != "" && owner != deploymentID {
		log.FromContext(ctx).Info("canary object belongs to another deployment, leaving it", "kind", kind, "name", name, "owner", owner)
		return nil
	}
	policy := metav1.DeletePropagationBackground
	if err := d.client.Delete(ctx, obj, &client.DeleteOptions{PropagationPolicy: &policy}); client.IgnoreNotFound(err) != nil {
		return fmt.Errorf("%w: delete %s %s: %v", ErrApplyFailed, kind, name, err)
	}
	return nil
}

// Status reports the canary Deployment, or nil when there is none.
func (d *Deployer) Status(ctx context.Context, service string) (*WorkloadStatus, error) {
	dep := &appsv1.Deployment{}
	if err := d.client.Get(ctx, client.ObjectKey{Namespace: d.namespace, Name: canaryv1.CanaryName(service)}, dep); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &WorkloadStatus{
		Version:      dep.Labels[canaryv1.LabelVersion],
		DeploymentID: dep.Labels[canaryv1.LabelDeploymentID],
		Desired:      desired(dep),
		Ready:        dep.Status.ReadyReplicas,
	}, nil
}
