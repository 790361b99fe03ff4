package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/brunobiangulo/orgatlas/llm"
)

// RetryPolicy controls how a chunk's provider call is repeated after a
// retryable *llm.ProviderError. The zero value and the default both make a
// single attempt.
type RetryPolicy struct {
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialDelay   time.Duration `json:"initial_delay" yaml:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay       time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`
	Multiplier     float64       `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction float64       `json:"jitter_fraction" yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// DefaultRetryPolicy returns a policy that never retries but carries sane
// backoff values for callers that raise MaxAttempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    1,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempts run out. It returns the last error seen.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}

	var lastErr error
	delay := p.InitialDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op()
		if err == nil {
			if attempt > 1 {
				slog.Info("extract: provider call succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == p.MaxAttempts {
			break
		}

		wait := addJitter(delay, p.JitterFraction)
		slog.Warn("extract: provider call failed, retrying",
			"error", err, "attempt", attempt, "max_attempts", p.MaxAttempts, "delay", wait)

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(wait):
		}

		delay = time.Duration(math.Min(float64(p.MaxDelay), float64(delay)*p.Multiplier))
	}

	return lastErr
}

func retryable(err error) bool {
	var pe *llm.ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

func addJitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	jitter := time.Duration(rand.Float64() * float64(d) * fraction)
	if rand.IntN(2) == 0 {
		return d - jitter
	}
	return d + jitter
}
