package models

import (
	"fmt"
)

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeThrottled
	OutcomeHTTPError
	OutcomeNetworkError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeNetworkError:
		return "network_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// FetchOutcome is the classified result of a single page fetch.
// Body is set only for OutcomeSuccess, StatusCode for OutcomeHTTPError
// and OutcomeThrottled, Cause only for OutcomeNetworkError.
type FetchOutcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
	Cause      error
}

func Success(body []byte) FetchOutcome {
	return FetchOutcome{Kind: OutcomeSuccess, StatusCode: 200, Body: body}
}

func Throttled() FetchOutcome {
	return FetchOutcome{Kind: OutcomeThrottled, StatusCode: 503}
}

func HTTPError(status int) FetchOutcome {
	return FetchOutcome{Kind: OutcomeHTTPError, StatusCode: status}
}

func NetworkError(cause error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeNetworkError, Cause: cause}
}

// TerminationReason explains why a search stopped.
type TerminationReason string

const (
	ReasonNone               TerminationReason = ""
	ReasonComplete           TerminationReason = "complete"
	ReasonPolicyDisallowed   TerminationReason = "policy_disallowed"
	ReasonHTTPNonRetryable   TerminationReason = "http_non_retryable"
	ReasonNoMoreResults      TerminationReason = "no_more_results"
	ReasonPageLimit          TerminationReason = "page_limit"
	ReasonPolicyUndetermined TerminationReason = "policy_undetermined"
	ReasonRetriesExhausted   TerminationReason = "retries_exhausted"
	ReasonCancelled          TerminationReason = "cancelled"
	ReasonInvalidQuery       TerminationReason = "invalid_query"
)

// SearchRun is what a finished search hands to its sinks.
type SearchRun struct {
	Query   SearchQuery
	Records []ListingRecord
	State   string
	Reason  TerminationReason
	Pages   int
	Error   string
}

// Failed reports whether the search ended on an error rather than running out of pages.
func (r SearchRun) Failed() bool {
	return r.State == "TERMINATED_ERROR"
}
