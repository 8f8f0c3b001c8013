package polling

import (
	"testing"
	"time"
)

func TestFixed(t *testing.T) {
	p := NewFixed(250 * time.Millisecond)

	inputs := []bool{true, false, false, true, false}
	for i, in := range inputs {
		if got := p.NextDelay(in); got != 250*time.Millisecond {
			t.Errorf("call %d NextDelay(%v) = %v, want 250ms", i, in, got)
		}
	}

	p.Reset()

	if p.NextDelay(true) != p.NextDelay(false) {
		t.Error("fixed policy must ignore its input")
	}
}

func TestExponential_BacksOffOnFailure(t *testing.T) {
	p := NewExponential(ExponentialConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
	})

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}

	for i, want := range expected {
		if got := p.NextDelay(false); got != want {
			t.Errorf("attempt %d NextDelay(false) = %v, want %v", i, got, want)
		}
	}
}

func TestExponential_SuccessResets(t *testing.T) {
	p := NewExponential(ExponentialConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
		AfterSuccess:    10 * time.Millisecond,
	})

	p.NextDelay(false)
	p.NextDelay(false)
	p.NextDelay(false)

	if got := p.NextDelay(true); got != 10*time.Millisecond {
		t.Errorf("NextDelay(true) = %v, want 10ms", got)
	}
	if got := p.NextDelay(false); got != 100*time.Millisecond {
		t.Errorf("first failure after success = %v, want 100ms", got)
	}
}

func TestExponential_ResetRestoresInitialState(t *testing.T) {
	newPolicy := func() *Exponential {
		return NewExponential(ExponentialConfig{
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     400 * time.Millisecond,
			Multiplier:      3,
		})
	}

	fresh := newPolicy()
	used := newPolicy()
	for i := 0; i < 5; i++ {
		used.NextDelay(false)
	}
	used.Reset()

	for i := 0; i < 4; i++ {
		a, b := fresh.NextDelay(false), used.NextDelay(false)
		if a != b {
			t.Errorf("step %d: fresh %v, reset %v", i, a, b)
		}
	}
}

func TestExponential_Deterministic(t *testing.T) {
	a := NewExponential()
	b := NewExponential()

	inputs := []bool{false, false, true, false, false, false, true, false}
	for i, in := range inputs {
		if x, y := a.NextDelay(in), b.NextDelay(in); x != y {
			t.Errorf("step %d: %v != %v", i, x, y)
		}
	}
}

func TestExponential_Defaults(t *testing.T) {
	p := NewExponential(ExponentialConfig{InitialInterval: time.Minute, MaxInterval: time.Second})

	if got := p.NextDelay(false); got != time.Minute {
		t.Errorf("NextDelay(false) = %v, want 1m", got)
	}
	if got := p.NextDelay(false); got != time.Minute {
		t.Errorf("max below initial should be raised to initial, got %v", got)
	}
}

var (
	_ Policy = (*Fixed)(nil)
	_ Policy = (*Exponential)(nil)
)
