package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifiersMatchWrappedErrors(t *testing.T) {
	nf := fmt.Errorf("import issue 4: %w", NotFound("milestone %d", 9))
	if !IsNotFound(nf) {
		t.Errorf("IsNotFound(%v) = false", nf)
	}
	if IsNotRetriable(nf) {
		t.Errorf("IsNotRetriable(%v) = true", nf)
	}

	nr := fmt.Errorf("member: %w", NotRetriable("unknown role %q", "wizard"))
	if !IsNotRetriable(nr) {
		t.Errorf("IsNotRetriable(%v) = false", nr)
	}

	if IsNotFound(errors.New("boom")) || IsNotRetriable(errors.New("boom")) {
		t.Error("plain errors must not classify")
	}
}

func TestRateLimitedDefaultsCooldown(t *testing.T) {
	rl, ok := AsRateLimited(fmt.Errorf("fetch: %w", RateLimited(30*time.Second)))
	if !ok {
		t.Fatal("AsRateLimited failed on wrapped error")
	}
	if rl.ResetIn != 30*time.Second {
		t.Errorf("ResetIn = %v, want 30s", rl.ResetIn)
	}

	rl, ok = AsRateLimited(RateLimited(0))
	if !ok {
		t.Fatal("AsRateLimited failed")
	}
	if rl.ResetIn != time.Minute {
		t.Errorf("zero cooldown must default to one minute, got %v", rl.ResetIn)
	}

	if _, ok := AsRateLimited(errors.New("boom")); ok {
		t.Error("plain error classified as rate limited")
	}
}
