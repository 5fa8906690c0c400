package monitor

import "time"

// DefaultReconnectInterval is the wait between a lost stream and the next dial.
const DefaultReconnectInterval = 30 * time.Second

// Backoff decides how long to wait before reconnect attempt n (starting at 0).
// n resets to 0 after every successful dial.
type Backoff interface {
	Next(attempt int) time.Duration
}

// ConstantBackoff waits the same interval before every attempt.
type ConstantBackoff time.Duration

// Next implements Backoff.
func (b ConstantBackoff) Next(int) time.Duration { return time.Duration(b) }

// ExponentialBackoff doubles the wait on each consecutive failure, capped at Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Next implements Backoff.
func (b ExponentialBackoff) Next(attempt int) time.Duration {
	d := b.Base
	for range attempt {
		d = nextBackoff(d, b.Max)
		if d == b.Max {
			break
		}
	}
	return min(d, b.Max)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
