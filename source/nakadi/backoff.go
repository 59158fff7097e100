package nakadi

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/go-resiliency/retrier"
)

// Backoff hands out reconnect delays: doubling from initial, capped at max.
// Reset returns it to the initial delay.
type Backoff struct {
	mu    sync.Mutex
	steps []time.Duration
	next  int
}

func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Millisecond
	}
	if max < initial {
		max = initial
	}
	n := 1
	for d := initial; d < max; d *= 2 {
		n++
	}
	steps := retrier.ExponentialBackoff(n, initial)
	for i := range steps {
		if steps[i] > max {
			steps[i] = max
		}
	}
	return &Backoff{steps: steps}
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.steps[b.next]
	if b.next < len(b.steps)-1 {
		b.next++
	}
	return d
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	b.next = 0
	b.mu.Unlock()
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
