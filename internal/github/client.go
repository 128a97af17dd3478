// Package github wraps the source hosting API used by import runs: an
// authenticated go-github client, a request budget fed from rate-limit
// headers, and typed page fetchers for each imported collection.
package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/go-github/v81/github"
	"golang.org/x/oauth2"
)

type Client struct {
	API    *github.Client
	HTTP   *http.Client
	budget *RequestBudget

	owner string
	repo  string
}

type options struct {
	verbose bool
	// writer controls where verbose HTTP logs go (typically stderr) so
	// structured output on stdout stays clean and tests can capture logs.
	writer  io.Writer
	baseURL string
}

type Option func(*options)

func WithVerbose(enabled bool, writer io.Writer) Option {
	return func(o *options) {
		o.verbose = enabled
		o.writer = writer
	}
}

// WithBaseURL points the client at a GitHub Enterprise instance or a test
// server.
func WithBaseURL(raw string) Option {
	return func(o *options) { o.baseURL = raw }
}

// loggingRoundTripper emits one line per request and response (including
// latency) when verbose logging is enabled.
type loggingRoundTripper struct {
	base http.RoundTripper
	w    io.Writer
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	if t.w != nil {
		_, _ = fmt.Fprintf(t.w, "[verbose] source api: %s %s\n", req.Method, req.URL.String())
	}
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start)
	if t.w != nil {
		if err != nil {
			_, _ = fmt.Fprintf(t.w, "[verbose] source api: error after %s: %v\n", dur.Truncate(time.Millisecond), err)
		} else {
			_, _ = fmt.Fprintf(t.w, "[verbose] source api: %d %s (%s)\n", resp.StatusCode, http.StatusText(resp.StatusCode), dur.Truncate(time.Millisecond))
		}
	}
	return resp, err
}

// budgetRoundTripper keeps the request budget current with what the remote
// actually reports, so pacing reflects other consumers of the same token.
type budgetRoundTripper struct {
	base   http.RoundTripper
	budget *RequestBudget
}

func (t *budgetRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if resp != nil {
		t.budget.UpdateFromResponse(resp)
	}
	return resp, err
}

// NewClient builds a client scoped to one source repository.
func NewClient(ctx context.Context, token, owner, repo string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("github client: ctx is nil")
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("github client: owner and repo are required")
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	if o.verbose && o.writer == nil {
		o.writer = os.Stderr
	}

	budget := NewRequestBudget()

	transport := http.DefaultTransport
	transport = &budgetRoundTripper{base: transport, budget: budget}
	if o.verbose {
		transport = &loggingRoundTripper{base: transport, w: o.writer}
	}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		transport = &oauth2.Transport{Source: ts, Base: transport}
	}
	tc := &http.Client{Transport: transport}

	api := github.NewClient(tc)
	if o.baseURL != "" {
		var err error
		api, err = api.WithEnterpriseURLs(o.baseURL, o.baseURL)
		if err != nil {
			return nil, fmt.Errorf("github client: base url: %w", err)
		}
	}

	return &Client{
		API:    api,
		HTTP:   tc,
		budget: budget,
		owner:  owner,
		repo:   repo,
	}, nil
}

func (c *Client) Budget() *RequestBudget { return c.budget }

func (c *Client) Owner() string { return c.owner }
func (c *Client) Repo() string  { return c.repo }

// acquire blocks until the budget allows one more request.
func (c *Client) acquire(ctx context.Context) error {
	return c.budget.Acquire(ctx, 1)
}
