package reconciler

import "time"

const (
	DefaultBackoffStart = 1 * time.Second
	DefaultBackoffCap   = 30 * time.Second
)

// backoff produces the polling intervals for a single tracked item: start,
// doubling on every poll, capped. Transport failures do not reset it.
type backoff struct {
	next time.Duration
	cap  time.Duration
}

func newBackoff(start, cap time.Duration) *backoff {
	if start <= 0 {
		start = DefaultBackoffStart
	}
	if cap <= 0 {
		cap = DefaultBackoffCap
	}
	return &backoff{next: start, cap: cap}
}

func (b *backoff) interval() time.Duration {
	interval := b.next
	b.next *= 2
	if b.next > b.cap {
		b.next = b.cap
	}
	return interval
}
