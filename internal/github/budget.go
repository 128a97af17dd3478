package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RequestBudget paces API calls against the remote rate limit. It starts
// from a conservative default and converges on the truth as responses carry
// X-RateLimit-* headers; a Retry-After header opens a hard cooldown window.
type RequestBudget struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	cooldown  time.Time
	probed    bool
	now       func() time.Time
	notifyCh  chan struct{}
}

func NewRequestBudget() *RequestBudget {
	return &RequestBudget{
		remaining: 5000,
		reset:     time.Now().Add(time.Hour),
		now:       time.Now,
		notifyCh:  make(chan struct{}),
	}
}

func (b *RequestBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// ResetIn reports how long until the remote budget refreshes. Zero when the
// reset time has already passed.
func (b *RequestBudget) ResetIn() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	wait := b.reset.Sub(b.now())
	if cd := b.cooldown.Sub(b.now()); cd > wait {
		wait = cd
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (b *RequestBudget) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("Acquire: n must be > 0 (got %d)", n)
	}
	for i := 0; i < n; i++ {
		if err := b.acquireOne(ctx); err != nil {
			return err
		}
	}
	return nil
}

// acquireOne blocks until one request is allowed: cooldown windows are
// waited out, an exhausted budget waits for the reset time, and after a
// reset exactly one probe request goes out before blocking on fresh
// headers.
func (b *RequestBudget) acquireOne(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()

		if now.Before(b.cooldown) {
			wait, ch := b.cooldown.Sub(now), b.notifyCh
			b.mu.Unlock()
			if err := sleepOrSignal(ctx, wait, ch); err != nil {
				return err
			}
			continue
		}

		if b.remaining > 0 {
			b.remaining--
			b.mu.Unlock()
			return nil
		}

		if !now.Before(b.reset) {
			if !b.probed {
				b.probed = true
				b.mu.Unlock()
				return nil
			}
			ch := b.notifyCh
			b.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
			}
			continue
		}

		wait, ch := b.reset.Sub(now), b.notifyCh
		b.mu.Unlock()
		if err := sleepOrSignal(ctx, wait, ch); err != nil {
			return err
		}
	}
}

func sleepOrSignal(ctx context.Context, wait time.Duration, ch <-chan struct{}) error {
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	case <-timer.C:
		return nil
	}
}

// UpdateFromResponse folds the remote's rate-limit headers into the budget.
func (b *RequestBudget) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	changed := false

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			until := b.now().Add(time.Duration(seconds) * time.Second)
			if until.After(b.cooldown) {
				b.cooldown = until
				changed = true
			}
		}
	}
	if rem := resp.Header.Get("X-RateLimit-Remaining"); rem != "" {
		if val, err := strconv.Atoi(rem); err == nil && val >= 0 && val != b.remaining {
			b.remaining = val
			changed = true
		}
	}
	if rst := resp.Header.Get("X-RateLimit-Reset"); rst != "" {
		if val, err := strconv.ParseInt(rst, 10, 64); err == nil && val > 0 {
			newReset := time.Unix(val, 0)
			if !b.reset.Equal(newReset) {
				b.reset = newReset
				changed = true
			}
		}
	}

	if changed {
		b.probed = false
		close(b.notifyCh)
		b.notifyCh = make(chan struct{})
	}
}
