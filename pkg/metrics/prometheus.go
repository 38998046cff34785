// Package metrics reads canary health signals from Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// ErrUnavailable is returned when a query cannot be answered by the backend.
var ErrUnavailable = errors.New("metrics unavailable")

// Source issues instant aggregation queries against a Prometheus server.
type Source struct {
	api     promv1.API
	timeout time.Duration
	now     func() time.Time
}

// NewSource returns a Source for the Prometheus server at address.
func NewSource(address string, timeout time.Duration) (*Source, error) {
	c, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("prometheus client for %q: %w", address, err)
	}
	return &Source{api: promv1.NewAPI(c), timeout: timeout, now: time.Now}, nil
}

// Query evaluates expr and returns it as a scalar. An empty result is 0.
func (s *Source) Query(ctx context.Context, expr string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val, warnings, err := s.api.Query(ctx, expr, s.now(), promv1.WithTimeout(s.timeout))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(warnings) > 0 {
		log.FromContext(ctx).V(1).Info("prometheus returned warnings", "query", expr, "warnings", warnings)
	}

	var v float64
	switch r := val.(type) {
	case nil:
		return 0, nil
	case model.Vector:
		if len(r) == 0 {
			return 0, nil
		}
		v = float64(r[0].Value)
	case *model.Scalar:
		v = float64(r.Value)
	default:
		return 0, fmt.Errorf("%w: unexpected result type %s", ErrUnavailable, val.Type())
	}
	// No traffic makes ratios and quantiles NaN; there is nothing to breach.
	if math.IsNaN(v) {
		return 0, nil
	}
	return v, nil
}

// Ping verifies the backend answers API calls.
func (s *Source) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.api.Buildinfo(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
