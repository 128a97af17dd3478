package github

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ResolveToken resolves a source API token: an explicit value wins, then
// GITHUB_TOKEN, then the gh CLI's stored credential. It never prints the
// token. An empty result is not an error; imports of public repositories
// run unauthenticated at a lower rate limit.
func ResolveToken(ctx context.Context, explicit string) (string, error) {
	if tok := strings.TrimSpace(explicit); tok != "" {
		return tok, nil
	}
	if tok := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); tok != "" {
		return tok, nil
	}

	if _, err := exec.LookPath("gh"); err != nil {
		return "", nil
	}
	// Bounded so a broken credential helper doesn't hang the import.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "gh", "auth", "token", "-h", "github.com")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", nil
	}
	return strings.TrimSpace(out.String()), nil
}
