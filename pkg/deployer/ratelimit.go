package deployer

import (
	"time"

	"k8s.io/client-go/util/workqueue"
)

// NewReadinessBackoff returns an item/exponential rate limiter to avoid
// hot-looping while a canary Deployment becomes ready.
func NewReadinessBackoff() workqueue.TypedRateLimiter[string] {
	return workqueue.NewTypedItemExponentialFailureRateLimiter[string](1*time.Second, 30*time.Second)
}
