package traffic

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
)

// TrafficSplitGVK is the SMI routing object kind.
var TrafficSplitGVK = schema.GroupVersionKind{Group: "split.smi-spec.io", Version: "v1alpha2", Kind: "TrafficSplit"}

// SplitName is the name of the TrafficSplit routing a service.
func SplitName(service string) string {
	return service + "-split"
}

// SMIRouter routes through an SMI TrafficSplit with the stable and canary
// Services as backends.
type SMIRouter struct {
	client    client.Client
	namespace string
}

func NewSMIRouter(c client.Client, namespace string) *SMIRouter {
	return &SMIRouter{client: c, namespace: namespace}
}

func (r *SMIRouter) newSplit(service string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(TrafficSplitGVK)
	u.SetNamespace(r.namespace)
	u.SetName(SplitName(service))
	return u
}

func (r *SMIRouter) SetSplit(ctx context.Context, service, deploymentID string, canaryPercent int32) error {
	if err := checkPercent(canaryPercent); err != nil {
		return err
	}
	ts := r.newSplit(service)
	op, err := controllerutil.CreateOrUpdate(ctx, r.client, ts, func() error {
		labels := ts.GetLabels()
		if labels == nil {
			labels = map[string]string{}
		}
		labels[canaryv1.LabelApp] = service
		// a manual rollback has no id and keeps the owner's
		if deploymentID != "" {
			labels[canaryv1.LabelDeploymentID] = deploymentID
		}
		ts.SetLabels(labels)
		return unstructured.SetNestedField(ts.Object, map[string]interface{}{
			"service": service,
			"backends": []interface{}{
				map[string]interface{}{"service": canaryv1.StableName(service), "weight": int64(100 - canaryPercent)},
				map[string]interface{}{"service": canaryv1.CanaryName(service), "weight": int64(canaryPercent)},
			},
		}, "spec")
	})
	if err != nil {
		return fmt.Errorf("%w: TrafficSplit %s/%s to %d%%: %v", ErrApplyFailed, r.namespace, ts.GetName(), canaryPercent, err)
	}
	log.FromContext(ctx).V(1).Info("traffic split applied", "trafficSplit", ts.GetName(), "canaryPercent", canaryPercent, "operation", op)
	return nil
}

func (r *SMIRouter) Remove(ctx context.Context, service, deploymentID string) error {
	ts := r.newSplit(service)
	if err := r.client.Get(ctx, client.ObjectKeyFromObject(ts), ts); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: get TrafficSplit %s: %v", ErrApplyFailed, ts.GetName(), err)
	}
	if owner := ts.GetLabels()[canaryv1.LabelDeploymentID]; deploymentID != "" && owner != deploymentID {
		log.FromContext(ctx).Info("TrafficSplit belongs to another deployment, leaving it", "trafficSplit", ts.GetName(), "owner", owner)
		return nil
	}
	if err := r.client.Delete(ctx, ts); client.IgnoreNotFound(err) != nil {
		return fmt.Errorf("%w: delete TrafficSplit %s: %v", ErrApplyFailed, ts.GetName(), err)
	}
	return nil
}

func (r *SMIRouter) Current(ctx context.Context, service string) (*Split, error) {
	ts := r.newSplit(service)
	if err := r.client.Get(ctx, client.ObjectKeyFromObject(ts), ts); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	backends, _, err := unstructured.NestedSlice(ts.Object, "spec", "backends")
	if err != nil {
		return nil, fmt.Errorf("TrafficSplit %s: %w", ts.GetName(), err)
	}
	split := &Split{DeploymentID: ts.GetLabels()[canaryv1.LabelDeploymentID]}
	for _, b := range backends {
		m, ok := b.(map[string]interface{})
		if !ok {
			continue
		}
		switch m["service"] {
		case canaryv1.StableName(service):
			split.StablePercent = weight(m["weight"])
		case canaryv1.CanaryName(service):
			split.CanaryPercent = weight(m["weight"])
		}
	}
	return split, nil
}

func weight(v interface{}) int32 {
	switch w := v.(type) {
	case int64:
		return int32(w)
	case float64:
		return int32(w)
	default:
		return 0
	}
}
