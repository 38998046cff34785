// Package traffic shifts request weight between the stable and canary variants of a service.
package traffic

import (
	"context"
	"errors"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/client"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
)

// ErrApplyFailed is returned when the control plane rejects a routing change.
var ErrApplyFailed = errors.New("traffic apply failed")

// Split is the weight currently applied for a service.
type Split struct {
	StablePercent int32  `json:"stablePercent"`
	CanaryPercent int32  `json:"canaryPercent"`
	DeploymentID  string `json:"deploymentID,omitempty"`
}

// Router applies a weighted split between stable and canary. SetSplit must be
// idempotent: applying the same percentage twice leaves the same state.
type Router interface {
	SetSplit(ctx context.Context, service, deploymentID string, canaryPercent int32) error
	// Remove deletes the routing state created for deploymentID. An empty id removes it unconditionally.
	Remove(ctx context.Context, service, deploymentID string) error
	// Current returns the applied split, or nil when none exists.
	Current(ctx context.Context, service string) (*Split, error)
}

// NewRouter returns the Router for the given provider name.
func NewRouter(provider string, c client.Client, namespace string) (Router, error) {
	switch provider {
	case canaryv1.TrafficProviderSMI:
		return NewSMIRouter(c, namespace), nil
	case canaryv1.TrafficProviderAnnotation:
		return NewAnnotationRouter(c, namespace), nil
	default:
		return nil, fmt.Errorf("unknown traffic provider %q", provider)
	}
}

func checkPercent(p int32) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("%w: canary percent %d out of range [0,100]", ErrApplyFailed, p)
	}
	return nil
}
