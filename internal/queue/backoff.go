package queue

import "time"

// Backoff computes the delay before retry attempt n (1-based).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay on every attempt: Initial, 2*Initial, 4*Initial...
// capped at Max. A zero Max leaves the curve uncapped.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.Max > 0 && d >= e.Max {
			return e.Max
		}
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Constant always waits the same interval
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(int) time.Duration {
	return c.Interval
}
