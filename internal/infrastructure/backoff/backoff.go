package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential delays between consecutive failures.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool
}

func New(min, max time.Duration, factor float64) *Backoff {
	return &Backoff{
		Min:    min,
		Max:    max,
		Factor: factor,
		Jitter: true,
	}
}

// Duration returns the delay after the given number of consecutive
// failures. With jitter the result lies in [d/2, d].
func (b *Backoff) Duration(failures int) time.Duration {
	if failures <= 0 {
		return b.Min
	}

	duration := float64(b.Min) * math.Pow(b.Factor, float64(failures-1))

	if duration > float64(b.Max) {
		duration = float64(b.Max)
	}

	if b.Jitter {
		duration = duration * (0.5 + rand.Float64()*0.5)
	}

	return time.Duration(duration)
}
