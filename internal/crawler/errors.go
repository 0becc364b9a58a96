package crawler

import (
	"errors"
	"time"

	"github.com/maltedev/amazon-search-scraper/internal/policy"
)

var (
	ErrPolicyUndetermined = policy.ErrPolicyUndetermined
	ErrPolicyDisallowed   = errors.New("disallowed by robots.txt")
	ErrHTTPNonRetryable   = errors.New("non-retryable HTTP status")
	ErrHTTPThrottled      = errors.New("throttled by server")
	ErrNetworkFailure     = errors.New("network failure")
	ErrRetriesExhausted   = errors.New("retries exhausted")
)

const DefaultMaxAttempts = 5

// RetryPolicy bounds how often a single page is re-requested after
// throttling or network failures. MaxAttempts counts failed attempts on the
// same page; zero selects DefaultMaxAttempts and a negative value removes
// the ceiling. MaxElapsed, when positive, caps the time spent retrying one
// page.
type RetryPolicy struct {
	MaxAttempts int
	MaxElapsed  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts}
}

// UnboundedRetryPolicy retries forever, which is only sensible with an
// external deadline on the context.
func UnboundedRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: -1}
}

func (p RetryPolicy) Exhausted(failures int, elapsed time.Duration) bool {
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if maxAttempts > 0 && failures >= maxAttempts {
		return true
	}
	return p.MaxElapsed > 0 && elapsed >= p.MaxElapsed
}
