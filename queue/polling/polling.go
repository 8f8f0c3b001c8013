// Package polling paces a consumer loop between dequeue attempts.
package polling

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy yields the wait before the next dequeue attempt. Implementations
// are deterministic for a given state and input, and are owned by a single
// consumer loop.
type Policy interface {
	NextDelay(lastOperationSucceeded bool) time.Duration
	// Reset restores the state the policy had right after construction.
	Reset()
}

// Fixed always waits the same interval.
type Fixed struct {
	interval time.Duration
}

func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{interval: interval}
}

func (f *Fixed) NextDelay(bool) time.Duration {
	return f.interval
}

func (f *Fixed) Reset() {}

type ExponentialConfig struct {
	// InitialInterval is the first wait after an empty or failed attempt.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// AfterSuccess is the wait after an attempt that found work.
	AfterSuccess time.Duration
}

const (
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
	DefaultMultiplier      = 2.0
)

// Exponential grows the wait on consecutive unsuccessful attempts and drops
// back to AfterSuccess as soon as an attempt finds work.
type Exponential struct {
	backoff      *backoff.ExponentialBackOff
	afterSuccess time.Duration
}

func NewExponential(config ...ExponentialConfig) *Exponential {
	cfg := ExponentialConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultMultiplier
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      cfg.Multiplier,
		// no jitter keeps NextDelay deterministic
		RandomizationFactor: 0,
	}
	b.Reset()

	return &Exponential{backoff: b, afterSuccess: cfg.AfterSuccess}
}

func (e *Exponential) NextDelay(lastOperationSucceeded bool) time.Duration {
	if lastOperationSucceeded {
		e.backoff.Reset()
		return e.afterSuccess
	}
	return e.backoff.NextBackOff()
}

func (e *Exponential) Reset() {
	e.backoff.Reset()
}
