package github

import (
	"context"
	"net/http"
	"testing"
	"time"

	"repoport/internal/errs"

	gh "github.com/google/go-github/v81/github"
)

func responseWithHeaders(h map[string]string) *http.Response {
	resp := &http.Response{Header: http.Header{}}
	for k, v := range h {
		resp.Header.Set(k, v)
	}
	return resp
}

func TestRequestBudget_AcquireDecrements(t *testing.T) {
	b := NewRequestBudget()
	before := b.Remaining()

	if err := b.Acquire(context.Background(), 3); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := b.Remaining(); got != before-3 {
		t.Fatalf("Remaining = %d, want %d", got, before-3)
	}
}

func TestRequestBudget_UpdateFromResponse(t *testing.T) {
	b := NewRequestBudget()
	b.UpdateFromResponse(responseWithHeaders(map[string]string{
		"X-RateLimit-Remaining": "17",
	}))

	if got := b.Remaining(); got != 17 {
		t.Fatalf("Remaining = %d, want 17", got)
	}
}

func TestRequestBudget_CooldownBlocksAcquire(t *testing.T) {
	b := NewRequestBudget()
	b.UpdateFromResponse(responseWithHeaders(map[string]string{
		"Retry-After": "60",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := b.Acquire(ctx, 1)
	if err == nil {
		t.Fatal("expected Acquire to block during cooldown")
	}
	if ctx.Err() == nil {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestRequestBudget_ExhaustedAllowsOneProbeAfterReset(t *testing.T) {
	b := NewRequestBudget()
	b.UpdateFromResponse(responseWithHeaders(map[string]string{
		"X-RateLimit-Remaining": "0",
		"X-RateLimit-Reset":     "1", // long in the past
	}))

	// First acquire after the reset passed is the probe.
	if err := b.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("probe Acquire: %v", err)
	}

	// Second acquire blocks until fresh headers arrive.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx, 1); err == nil {
		t.Fatal("expected second Acquire to block until headers refresh")
	}
}

func TestMapAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, got error)
	}{
		{
			name: "nil stays nil",
			err:  nil,
			check: func(t *testing.T, got error) {
				if got != nil {
					t.Fatalf("got %v, want nil", got)
				}
			},
		},
		{
			name: "primary rate limit carries cooldown",
			err: &gh.RateLimitError{
				Rate: gh.Rate{Reset: gh.Timestamp{Time: time.Now().Add(2 * time.Minute)}},
			},
			check: func(t *testing.T, got error) {
				rl, ok := errs.AsRateLimited(got)
				if !ok {
					t.Fatalf("got %v, want RateLimitedError", got)
				}
				if rl.ResetIn <= 0 {
					t.Fatalf("ResetIn = %s, want > 0", rl.ResetIn)
				}
			},
		},
		{
			name: "secondary rate limit carries retry-after",
			err: &gh.AbuseRateLimitError{
				RetryAfter: gh.Ptr(90 * time.Second),
			},
			check: func(t *testing.T, got error) {
				rl, ok := errs.AsRateLimited(got)
				if !ok {
					t.Fatalf("got %v, want RateLimitedError", got)
				}
				if rl.ResetIn != 90*time.Second {
					t.Fatalf("ResetIn = %s, want 90s", rl.ResetIn)
				}
			},
		},
		{
			name: "404 becomes NotFound",
			err: &gh.ErrorResponse{
				Response: &http.Response{
					StatusCode: http.StatusNotFound,
					Request:    &http.Request{URL: mustParseURL(t, "https://api.example.com/repos/a/b")},
				},
			},
			check: func(t *testing.T, got error) {
				if !errs.IsNotFound(got) {
					t.Fatalf("got %v, want NotFoundError", got)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, mapAPIError(tc.err))
		})
	}
}
