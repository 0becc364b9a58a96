package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

const wildcardAgent = "*"

var (
	ErrPolicyUndetermined = errors.New("crawl policy could not be determined")
	ErrInvalidURL         = errors.New("invalid URL")
)

// Checker reports whether a URL may be fetched.
type Checker interface {
	Allowed(ctx context.Context, rawURL string) (bool, error)
}

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	// FailOpen treats an unreachable or unparsable robots.txt as allow-all.
	FailOpen  bool
	UserAgent string
}

// Gate fetches robots.txt once per scheme+host and keeps the policy for the
// lifetime of the process. A failed fetch is not kept, so the next lookup
// asks the host again.
type Gate struct {
	client  Doer
	opts    Options
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]*robotstxt.RobotsData
}

func NewGate(client Doer, opts Options, logger *slog.Logger) *Gate {
	return &Gate{
		client:  client,
		opts:    opts,
		logger:  logger.With("component", "policy_gate"),
		entries: make(map[string]*robotstxt.RobotsData),
	}
}

func (g *Gate) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	data, err := g.lookup(ctx, u)
	if err != nil {
		return false, err
	}

	return data.TestAgent(u.RequestURI(), wildcardAgent), nil
}

func (g *Gate) lookup(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	key := u.Scheme + "://" + u.Host

	g.mu.Lock()
	defer g.mu.Unlock()

	if data, ok := g.entries[key]; ok {
		return data, nil
	}

	data, err := g.fetch(ctx, key+"/robots.txt")
	if err != nil {
		if !g.opts.FailOpen || ctx.Err() != nil {
			g.logger.Error("robots.txt unavailable", "host", u.Host, "error", err)
			return nil, fmt.Errorf("%w for %s: %v", ErrPolicyUndetermined, u.Host, err)
		}
		g.logger.Warn("robots.txt unavailable, allowing all paths", "host", u.Host, "error", err)
		data = allowAll()
	}

	g.entries[key] = data
	return data, nil
}

func (g *Gate) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if g.opts.UserAgent != "" {
		req.Header.Set("User-Agent", g.opts.UserAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("robots.txt returned status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		g.logger.Debug("robots.txt access denied, disallowing all paths", "url", robotsURL, "status", resp.StatusCode)
		return disallowAll(), nil
	case resp.StatusCode >= 400:
		// no policy published
		g.logger.Debug("robots.txt not found, allowing all paths", "url", robotsURL, "status", resp.StatusCode)
		return allowAll(), nil
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("robots.txt returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read robots.txt: %w", err)
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse robots.txt: %w", err)
	}

	return data, nil
}

func allowAll() *robotstxt.RobotsData {
	data, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	return data
}

func disallowAll() *robotstxt.RobotsData {
	data, _ := robotstxt.FromString("User-agent: *\nDisallow: /\n")
	return data
}

// AllowAll is a Checker that never blocks.
type AllowAll struct{}

func (AllowAll) Allowed(context.Context, string) (bool, error) {
	return true, nil
}
