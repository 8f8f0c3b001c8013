// Package poison decides when a message that keeps failing to decode should
// stop being retried, and what the caller sees when that happens.
package poison

import (
	"errors"
	"fmt"
	"strings"
)

// Behavior is the disposition applied to a decode failure.
type Behavior int

const (
	// Rethrow returns the decode error to the caller.
	Rethrow Behavior = iota
	// Swallow reports the message as absent instead.
	Swallow
)

func (b Behavior) String() string {
	switch b {
	case Swallow:
		return "swallow"
	default:
		return "rethrow"
	}
}

func ParseBehavior(s string) (Behavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rethrow":
		return Rethrow, nil
	case "swallow":
		return Swallow, nil
	default:
		return Rethrow, fmt.Errorf("unknown poison behavior %q", s)
	}
}

// Classification is the outcome of comparing a dequeue count to the threshold.
type Classification int

const (
	BelowThreshold Classification = iota
	AtOrAboveThreshold
)

// Classify is pure: a message is poison once it has been leased threshold times.
func Classify(dequeueCount, threshold int) Classification {
	if dequeueCount >= threshold {
		return AtOrAboveThreshold
	}
	return BelowThreshold
}

type Policy struct {
	Threshold int
	// QuarantineQueue receives the raw payload of poison messages. Empty skips
	// quarantine; removal from the source queue still happens.
	QuarantineQueue string
	OnPoison        Behavior
}

var ErrInvalidThreshold = errors.New("poison threshold must be at least 1")

func (p *Policy) Validate() error {
	if p.Threshold < 1 {
		return ErrInvalidThreshold
	}
	return nil
}

// Classify is nil-safe: without a policy nothing is ever poison.
func (p *Policy) Classify(dequeueCount int) Classification {
	if p == nil {
		return BelowThreshold
	}
	return Classify(dequeueCount, p.Threshold)
}

// Quarantines reports whether poison payloads are copied to a quarantine queue.
func (p *Policy) Quarantines() bool {
	return p != nil && p.QuarantineQueue != ""
}

// Disposition maps a decode error to what the caller receives. A nil policy
// always rethrows.
func (p *Policy) Disposition(err error) error {
	if p != nil && p.OnPoison == Swallow {
		return nil
	}
	return err
}

// BestEffort runs each step in order regardless of earlier failures. Failures
// are handed to onFailure and never returned.
func BestEffort(onFailure func(step string, err error), steps ...Step) {
	for _, step := range steps {
		if step.Run == nil {
			continue
		}
		if err := step.Run(); err != nil && onFailure != nil {
			onFailure(step.Name, err)
		}
	}
}

type Step struct {
	Name string
	Run  func() error
}
