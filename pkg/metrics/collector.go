package metrics

import (
	"context"
	"strings"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
)

// Signal names one health signal of the canary.
type Signal string

const (
	SignalErrorRate    Signal = "error_rate"
	SignalP99LatencyMs Signal = "p99_latency_ms"
	SignalRequestRate  Signal = "request_rate"
	SignalSuccessRate  Signal = "success_rate"
)

// Signals lists every signal in collection order.
var Signals = []Signal{SignalErrorRate, SignalP99LatencyMs, SignalRequestRate, SignalSuccessRate}

// Snapshot is a point-in-time read of the canary signals. A signal that
// failed to collect is 0 and listed in Failed.
type Snapshot struct {
	ErrorRate    float64
	P99LatencyMs float64
	RequestRate  float64
	SuccessRate  float64
	CollectedAt  time.Time
	Failed       []Signal
}

// Querier answers a single aggregation query.
type Querier interface {
	Query(ctx context.Context, expr string) (float64, error)
}

// Collector gathers Snapshots for the canary variant of a service.
type Collector struct {
	querier   Querier
	templates canaryv1.QueryTemplates
	now       func() time.Time
	// OnFailure is called for every signal that degraded to 0.
	OnFailure func(Signal)
}

func NewCollector(q Querier, templates canaryv1.QueryTemplates) *Collector {
	return &Collector{querier: q, templates: templates, now: time.Now}
}

// Collect queries every signal once. It never fails: a query error is logged
// and the signal reads 0, so one bad query cannot stall the rollout loop.
func (c *Collector) Collect(ctx context.Context, service string) Snapshot {
	logger := log.FromContext(ctx)
	snap := Snapshot{CollectedAt: c.now()}
	for _, sig := range Signals {
		expr := Render(c.template(sig), service, canaryv1.VariantCanary)
		v, err := c.querier.Query(ctx, expr)
		if err != nil {
			logger.Error(err, "metric collection failed, using 0", "signal", sig)
			snap.Failed = append(snap.Failed, sig)
			if c.OnFailure != nil {
				c.OnFailure(sig)
			}
			v = 0
		}
		switch sig {
		case SignalErrorRate:
			snap.ErrorRate = v
		case SignalP99LatencyMs:
			snap.P99LatencyMs = v
		case SignalRequestRate:
			snap.RequestRate = v
		case SignalSuccessRate:
			snap.SuccessRate = v
		}
	}
	return snap
}

func (c *Collector) template(sig Signal) string {
	switch sig {
	case SignalErrorRate:
		return c.templates.ErrorRate
	case SignalP99LatencyMs:
		return c.templates.P99LatencyMs
	case SignalRequestRate:
		return c.templates.RequestRate
	default:
		return c.templates.SuccessRate
	}
}

// Render substitutes the service and variant placeholders of a query template.
func Render(tmpl, service, variant string) string {
	return strings.NewReplacer("{{service}}", service, "{{variant}}", variant).Replace(tmpl)
}
