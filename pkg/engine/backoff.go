package engine

import (
	"context"
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// BackoffOptions shapes the wait between polls.
type BackoffOptions struct {
	// Initial is the first wait.
	Initial time.Duration

	// Max caps every wait.
	Max time.Duration

	// Factor multiplies the wait after each step. Values below 1 keep it flat.
	Factor float64

	// Jitter adds up to Jitter*wait of random delay.
	Jitter float64
}

// DefaultBackoffOptions matches the default shutdown configuration.
func DefaultBackoffOptions() BackoffOptions {
	return BackoffOptions{
		Initial: 30 * time.Second,
		Max:     2 * time.Minute,
		Factor:  1.5,
		Jitter:  0.1,
	}
}

// newBackoff returns a wait.Backoff that never runs out of steps. Step
// returns Initial first, then grows by Factor until it reaches Max.
func (o BackoffOptions) newBackoff() *wait.Backoff {
	factor := o.Factor
	if factor < 1 {
		factor = 1
	}
	maxDelay := o.Max
	if maxDelay < o.Initial {
		maxDelay = o.Initial
	}
	return &wait.Backoff{
		Duration: o.Initial,
		Factor:   factor,
		Jitter:   o.Jitter,
		Steps:    math.MaxInt32,
		Cap:      maxDelay,
	}
}

// sleepFunc waits for d or until ctx ends.
type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext waits for d, returning ctx.Err() if ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
