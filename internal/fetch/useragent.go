package fetch

import (
	"math/rand"
	"sync"
	"time"
)

// UserAgentProvider yields a realistic User-Agent value per request.
type UserAgentProvider interface {
	UserAgent() string
}

type UserAgentFunc func() string

func (f UserAgentFunc) UserAgent() string {
	return f()
}

// StaticUserAgent always returns the same value.
type StaticUserAgent string

func (s StaticUserAgent) UserAgent() string {
	return string(s)
}

// RandomUserAgents picks uniformly from a fixed pool.
type RandomUserAgents struct {
	agents []string
	mu     sync.Mutex
	rnd    *rand.Rand
}

func NewRandomUserAgents(agents []string) *RandomUserAgents {
	if len(agents) == 0 {
		agents = DefaultUserAgents()
	}
	return &RandomUserAgents{
		agents: agents,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *RandomUserAgents) UserAgent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents[r.rnd.Intn(len(r.agents))]
}

func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	}
}
