// Package retry implements bounded exponential backoff for calls to
// external systems. Waits honor context cancellation.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

type Policy struct {
	Tries     int
	BaseDelay time.Duration
	Factor    float64
	Jitter    bool
}

// Do runs fn until it succeeds or the try budget is spent. Between attempts
// the delay grows by Factor; with Jitter enabled each wait is drawn uniformly
// from [delay/2, delay*Factor) before growing.
func (p Policy) Do(ctx context.Context, log zerolog.Logger, op string, fn func() error) error {
	delay := p.BaseDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s aborted: %w", op, err)
		}
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= p.Tries {
			return fmt.Errorf("%s failed after %d tries: %w", op, attempt, err)
		}
		if p.Jitter {
			delay = time.Duration(uniform(float64(delay)/2, float64(delay)*p.Factor))
		}
		log.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Int("tries", p.Tries).
			Dur("delay", delay).
			Err(err).
			Msg("retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s aborted: %w", op, ctx.Err())
		}
		delay = time.Duration(float64(delay) * p.Factor)
	}
}

func uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rand.Float64()*(hi-lo)
}
