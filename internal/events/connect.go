package events

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// ConnectionOptions controls broker connection retries at startup
type ConnectionOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
	Logger        zerolog.Logger
}

const maxDelay = 60 * time.Second

// Connect tries to reach the broker with exponential backoff. It respects
// context cancellation for graceful shutdown.
func Connect(ctx context.Context, cfg ConnectionOptions) (Publisher, error) {
	var lastErr error

	for i := 1; i <= cfg.RetryAttempts; i++ {
		pub, err := New(cfg.URL, cfg.Exchange, cfg.Logger)
		if err == nil {
			if i > 1 {
				cfg.Logger.Info().Int("attempt", i).Msg("broker connected")
			}
			return pub, nil
		}
		lastErr = err

		// exponential backoff with cap
		sleep := cfg.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDelay {
			sleep = maxDelay
		}

		cfg.Logger.Warn().
			Int("attempt", i).
			Dur("sleep", sleep).
			Err(err).
			Msg("broker dial failed")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to broker after %d attempts: %w",
		cfg.RetryAttempts, lastErr)
}
