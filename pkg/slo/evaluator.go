// Package slo judges canary snapshots against stage thresholds.
package slo

import (
	"fmt"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
	"github.com/example/canary-deployer/pkg/metrics"
)

// Violation reports the first threshold a snapshot breached.
type Violation struct {
	Signal    metrics.Signal
	Actual    float64
	Threshold float64
}

func (v *Violation) Error() string {
	switch v.Signal {
	case metrics.SignalErrorRate:
		return fmt.Sprintf("error rate %.2f%% exceeds threshold %.2f%%", v.Actual*100, v.Threshold*100)
	case metrics.SignalP99LatencyMs:
		return fmt.Sprintf("p99 latency %.1fms exceeds threshold %.1fms", v.Actual, v.Threshold)
	default:
		return fmt.Sprintf("%s %g exceeds threshold %g", v.Signal, v.Actual, v.Threshold)
	}
}

// Evaluate returns nil when the snapshot is within every bound. Error rate is
// checked before latency and the first breach is returned, so an operator
// sees the error rate whenever both are out of bounds.
func Evaluate(snap metrics.Snapshot, threshold canaryv1.SLOThreshold) *Violation {
	if snap.ErrorRate > threshold.MaxErrorRate {
		return &Violation{Signal: metrics.SignalErrorRate, Actual: snap.ErrorRate, Threshold: threshold.MaxErrorRate}
	}
	if snap.P99LatencyMs > threshold.MaxP99LatencyMs {
		return &Violation{Signal: metrics.SignalP99LatencyMs, Actual: snap.P99LatencyMs, Threshold: threshold.MaxP99LatencyMs}
	}
	return nil
}
