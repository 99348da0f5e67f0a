package stream

import "time"

// Default reconnect parameters.
const (
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffStep = 200 * time.Millisecond
	DefaultBackoffMax  = 5 * time.Second
)

// Backoff computes reconnect delays that grow linearly with the attempt
// number up to a cap.
type Backoff struct {
	Base time.Duration
	Step time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the default reconnect schedule.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBackoffBase, Step: DefaultBackoffStep, Max: DefaultBackoffMax}
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(attempt) * (b.Base + b.Step)
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	if delay < 0 {
		return 0
	}
	return delay
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 && b.Step <= 0 {
		b.Base = DefaultBackoffBase
		b.Step = DefaultBackoffStep
	}
	if b.Max <= 0 {
		b.Max = DefaultBackoffMax
	}
	return b
}
