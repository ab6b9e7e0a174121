package shipper

import (
	"math/rand"
	"time"
)

const (
	retryBase = time.Second
	retryCap  = time.Minute
)

// retryDelay returns the wait before reconnect attempt n (zero based): the
// base doubled n times, capped, with up to 25% jitter either way.
func retryDelay(n int) time.Duration {
	d := retryBase
	for i := 0; i < n && d < retryCap; i++ {
		d *= 2
	}
	if d > retryCap {
		d = retryCap
	}
	spread := float64(d) / 4
	return d + time.Duration(spread*(2*rand.Float64()-1)) //nolint:gosec
}
