package traffic

import (
	"context"
	"fmt"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
)

// AnnotationRouter records desired weights as annotations on the stable and
// canary Services. A service mesh or ingress controller can read these
// annotations to route traffic accordingly.
type AnnotationRouter struct {
	client    client.Client
	namespace string
}

func NewAnnotationRouter(c client.Client, namespace string) *AnnotationRouter {
	return &AnnotationRouter{client: c, namespace: namespace}
}

func (r *AnnotationRouter) SetSplit(ctx context.Context, service, deploymentID string, canaryPercent int32) error {
	if err := checkPercent(canaryPercent); err != nil {
		return err
	}
	if err := r.patchService(ctx, canaryv1.StableName(service), 100-canaryPercent, deploymentID, false); err != nil {
		return err
	}
	// nothing routes to a canary Service that was never created
	return r.patchService(ctx, canaryv1.CanaryName(service), canaryPercent, deploymentID, canaryPercent == 0)
}

// patchService sets the weight annotation on one Service, skipping the write
// when it already carries the desired values. A missing Service is only an
// error unless missingOK is set.
func (r *AnnotationRouter) patchService(ctx context.Context, name string, weight int32, deploymentID string, missingOK bool) error {
	svc := &corev1.Service{}
	key := types.NamespacedName{Name: name, Namespace: r.namespace}
	if err := r.client.Get(ctx, key, svc); err != nil {
		if missingOK && apierrors.IsNotFound(err) {
			log.FromContext(ctx).V(1).Info("service not found, nothing to annotate", "service", name)
			return nil
		}
		return fmt.Errorf("%w: get Service %s: %v", ErrApplyFailed, key, err)
	}
	want := strconv.Itoa(int(weight))
	if deploymentID == "" {
		deploymentID = svc.Annotations[canaryv1.LabelDeploymentID]
	}
	if svc.Annotations[canaryv1.AnnotationWeight] == want && svc.Annotations[canaryv1.LabelDeploymentID] == deploymentID {
		return nil
	}
	if svc.Annotations == nil {
		svc.Annotations = map[string]string{}
	}
	svc.Annotations[canaryv1.AnnotationWeight] = want
	if deploymentID != "" {
		svc.Annotations[canaryv1.LabelDeploymentID] = deploymentID
	}
	if err := r.client.Update(ctx, svc); err != nil {
		return fmt.Errorf("%w: annotate Service %s: %v", ErrApplyFailed, key, err)
	}
	log.FromContext(ctx).V(1).Info("service weight annotated", "service", name, "weight", weight)
	return nil
}

// Remove returns all weight to stable and strips the weight annotation from the
// canary Service when it still exists.
func (r *AnnotationRouter) Remove(ctx context.Context, service, deploymentID string) error {
	if err := r.resetStable(ctx, service, deploymentID); err != nil {
		return err
	}
	return r.stripCanary(ctx, service, deploymentID)
}

func (r *AnnotationRouter) resetStable(ctx context.Context, service, deploymentID string) error {
	stable := &corev1.Service{}
	key := types.NamespacedName{Name: canaryv1.StableName(service), Namespace: r.namespace}
	if err := r.client.Get(ctx, key, stable); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: get Service %s: %v", ErrApplyFailed, key, err)
	}
	if owner := stable.Annotations[canaryv1.LabelDeploymentID]; deploymentID != "" && owner != "" && owner != deploymentID {
		log.FromContext(ctx).Info("Service weights belong to another deployment, leaving them", "service", key.Name, "owner", owner)
		return nil
	}
	if _, ok := stable.Annotations[canaryv1.LabelDeploymentID]; !ok && stable.Annotations[canaryv1.AnnotationWeight] == "100" {
		return nil
	}
	if stable.Annotations == nil {
		stable.Annotations = map[string]string{}
	}
	stable.Annotations[canaryv1.AnnotationWeight] = "100"
	delete(stable.Annotations, canaryv1.LabelDeploymentID)
	if err := r.client.Update(ctx, stable); err != nil {
		return fmt.Errorf("%w: reset Service %s: %v", ErrApplyFailed, key, err)
	}
	return nil
}

func (r *AnnotationRouter) stripCanary(ctx context.Context, service, deploymentID string) error {
	canary := &corev1.Service{}
	key := types.NamespacedName{Name: canaryv1.CanaryName(service), Namespace: r.namespace}
	if err := r.client.Get(ctx, key, canary); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: get Service %s: %v", ErrApplyFailed, key, err)
	}
	if owner := canary.Annotations[canaryv1.LabelDeploymentID]; deploymentID != "" && owner != "" && owner != deploymentID {
		return nil
	}
	_, hasWeight := canary.Annotations[canaryv1.AnnotationWeight]
	_, hasID := canary.Annotations[canaryv1.LabelDeploymentID]
	if !hasWeight && !hasID {
		return nil
	}
	delete(canary.Annotations, canaryv1.AnnotationWeight)
	delete(canary.Annotations, canaryv1.LabelDeploymentID)
	if err := r.client.Update(ctx, canary); err != nil {
		return fmt.Errorf("%w: strip Service %s: %v", ErrApplyFailed, key, err)
	}
	return nil
}

func (r *AnnotationRouter) Current(ctx context.Context, service string) (*Split, error) {
	stable := &corev1.Service{}
	if err := r.client.Get(ctx, types.NamespacedName{Name: canaryv1.StableName(service), Namespace: r.namespace}, stable); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	raw, ok := stable.Annotations[canaryv1.AnnotationWeight]
	if !ok {
		return nil, nil
	}
	w, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("service %s: bad %s annotation %q", stable.Name, canaryv1.AnnotationWeight, raw)
	}
	return &Split{
		StablePercent: int32(w),
		CanaryPercent: int32(100 - w),
		DeploymentID:  stable.Annotations[canaryv1.LabelDeploymentID],
	}, nil
}
