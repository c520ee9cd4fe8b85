package delivery

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff computes the wait before the next delivery attempt
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter randomizes each delay by +/- Jitter*delay
	Jitter float64
}

// DefaultBackoff returns 2s doubling up to 10m with 20% jitter
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    2 * time.Second,
		Max:        10 * time.Minute,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// Delay returns the wait after the given number of failed attempts (1-based)
func (b Backoff) Delay(attempts int) time.Duration {
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     b.Initial,
		RandomizationFactor: b.Jitter,
		Multiplier:          b.Multiplier,
		MaxInterval:         b.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()

	d := eb.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = eb.NextBackOff()
	}
	return d
}
