package scraper

import (
	"time"

	"github.com/maltedev/amazon-search-scraper/internal/crawler"
	"github.com/maltedev/amazon-search-scraper/internal/ratelimit"
)

// Options configures every search run by a Service.
type Options struct {
	BaseURL        string
	MinDelay       time.Duration
	MaxDelay       time.Duration
	ThrottledDelay time.Duration
	Retry          crawler.RetryPolicy
	MaxPages       int
	RequestTimeout time.Duration
	UserAgents     []string
	// RobotsFailOpen treats an unreadable robots.txt as allow-all.
	RobotsFailOpen bool
	// RobotsUserAgent is the header sent when fetching robots.txt.
	RobotsUserAgent string
}

func DefaultOptions() Options {
	return Options{
		BaseURL:        crawler.DefaultBaseURL,
		MinDelay:       ratelimit.DefaultMinDelay,
		MaxDelay:       ratelimit.DefaultMaxDelay,
		ThrottledDelay: ratelimit.DefaultThrottledDelay,
		Retry:          crawler.DefaultRetryPolicy(),
		RequestTimeout: 30 * time.Second,
	}
}
