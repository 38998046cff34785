// Package health checks that every replica of a service is running.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
)

// ErrCheckFailed is returned when a service has no pods or a pod is not running.
var ErrCheckFailed = errors.New("health check failed")

type Checker struct {
	client    client.Client
	namespace string
}

func NewChecker(c client.Client, namespace string) *Checker {
	return &Checker{client: c, namespace: namespace}
}

// CheckService lists the pods labelled app=<service> and requires all of them
// to be in phase Running.
func (c *Checker) CheckService(ctx context.Context, service string) error {
	pods := &corev1.PodList{}
	if err := c.client.List(ctx, pods,
		client.InNamespace(c.namespace),
		client.MatchingLabels{canaryv1.LabelApp: service},
	); err != nil {
		return fmt.Errorf("%w: list pods for %s: %v", ErrCheckFailed, service, err)
	}
	if len(pods.Items) == 0 {
		return fmt.Errorf("%w: no pods found for %s in %s", ErrCheckFailed, service, c.namespace)
	}

	var bad []string
	for _, p := range pods.Items {
		if p.Status.Phase != corev1.PodRunning {
			bad = append(bad, fmt.Sprintf("%s=%s", p.Name, p.Status.Phase))
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("%w: %s has pods not running: %s", ErrCheckFailed, service, strings.Join(bad, ", "))
	}
	log.FromContext(ctx).V(1).Info("service healthy", "service", service, "pods", len(pods.Items))
	return nil
}
