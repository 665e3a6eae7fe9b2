package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// RetryConfig controls the exponential backoff schedule. Zero values take
// the defaults below.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = 0.1
	}
	return cfg
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff and
// jitter between attempts. It stops early when the context is cancelled.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	log := slog.Default().With("component", "retry", "operation", name)

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				log.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if attempt >= cfg.MaxAttempts {
			return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxAttempts, name, lastErr)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
		wait := jittered(delay, cfg.JitterFraction)
		log.Warn("operation failed, retrying",
			"attempt", attempt, "max_attempts", cfg.MaxAttempts,
			"error", lastErr, "next_delay", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

func jittered(d time.Duration, fraction float64) time.Duration {
	offset := float64(d) * fraction * (2*rand.Float64() - 1)
	out := time.Duration(float64(d) + offset)
	if out < 0 {
		return d
	}
	return out
}
