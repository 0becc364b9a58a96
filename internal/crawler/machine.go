package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/amazon-search-scraper/internal/fetch"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/maltedev/amazon-search-scraper/internal/parser"
	"github.com/maltedev/amazon-search-scraper/internal/policy"
	"github.com/maltedev/amazon-search-scraper/internal/ratelimit"
)

const DefaultBaseURL = "https://www.amazon.com"

type State int

const (
	StateRunning State = iota
	StateComplete
	StateExhausted
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateComplete:
		return "TERMINATED_COMPLETE"
	case StateExhausted:
		return "TERMINATED_EXHAUSTED"
	case StateError:
		return "TERMINATED_ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s != StateRunning
}

type Config struct {
	BaseURL string
	// MaxPages stops the loop after this many accepted pages; 0 means no limit.
	MaxPages int
	Retry    RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Retry:   DefaultRetryPolicy(),
	}
}

// PageEvent is reported after every accepted page.
type PageEvent struct {
	Page     int
	Found    int
	Added    int
	Total    int
	Complete bool
}

// Deps are the capabilities the loop needs. Everything with I/O or time is
// injected so a Machine can be driven without a network.
type Deps struct {
	Fetcher    fetch.Fetcher
	Policy     policy.Checker
	Extractor  parser.Extractor
	Pacer      ratelimit.Pacer
	Sleeper    ratelimit.Sleeper
	UserAgents fetch.UserAgentProvider
	Logger     *slog.Logger
	Now        func() time.Time
	OnPage     func(PageEvent)
}

// Machine is the fetch/extract loop for one search. It is not safe for
// concurrent use.
type Machine struct {
	query models.SearchQuery
	cfg   Config
	deps  Deps
	base  http.Header

	state   State
	reason  models.TerminationReason
	err     error
	page    int
	pages   int
	results *models.ResultSet

	failures   int
	retryStart time.Time
}

type Result struct {
	Query   models.SearchQuery
	Records []models.ListingRecord
	State   State
	Reason  models.TerminationReason
	Pages   int
	Err     error
}

// Empty reports whether nothing at all was collected.
func (r Result) Empty() bool {
	return len(r.Records) == 0
}

// Run flattens the result for sinks that live outside this package.
func (r Result) Run() models.SearchRun {
	run := models.SearchRun{
		Query:   r.Query,
		Records: r.Records,
		State:   r.State.String(),
		Reason:  r.Reason,
		Pages:   r.Pages,
	}
	if r.Err != nil {
		run.Error = r.Err.Error()
	}
	return run
}

func New(query models.SearchQuery, cfg Config, deps Deps) *Machine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if deps.Policy == nil {
		deps.Policy = policy.AllowAll{}
	}
	if deps.Extractor == nil {
		deps.Extractor = parser.NewSearchParser()
	}
	if deps.Pacer == nil {
		deps.Pacer = ratelimit.DefaultPacer()
	}
	if deps.Sleeper == nil {
		deps.Sleeper = ratelimit.ContextSleeper
	}
	if deps.UserAgents == nil {
		deps.UserAgents = fetch.NewRandomUserAgents(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Logger = deps.Logger.With("component", "fetch_loop", "keyword", query.Keyword)

	m := &Machine{
		query:   query,
		cfg:     cfg,
		deps:    deps,
		base:    fetch.BrowserHeaders(cfg.BaseURL),
		state:   StateRunning,
		page:    1,
		results: models.NewResultSet(query.TargetCount),
	}
	if query.TargetCount <= 0 {
		m.terminate(StateComplete, models.ReasonComplete, nil)
	}
	return m
}

// BuildPageRequest renders the search URL for a page number.
func BuildPageRequest(baseURL, keyword string, page int) models.PageRequest {
	return models.PageRequest{
		URL:        fmt.Sprintf("%s/s?k=%s&page=%d", strings.TrimRight(baseURL, "/"), url.QueryEscape(keyword), page),
		PageNumber: page,
	}
}

// Classify maps a raw fetch result onto a FetchOutcome.
func Classify(status int, body []byte, err error) models.FetchOutcome {
	switch {
	case err != nil:
		return models.NetworkError(err)
	case status == http.StatusOK:
		return models.Success(body)
	case status == http.StatusServiceUnavailable:
		return models.Throttled()
	default:
		return models.HTTPError(status)
	}
}

func (m *Machine) State() State {
	return m.state
}

// Page is the page number the next Step will request.
func (m *Machine) Page() int {
	return m.page
}

func (m *Machine) Len() int {
	return m.results.Len()
}

// Run steps the machine until it reaches a terminal state.
func (m *Machine) Run(ctx context.Context) Result {
	m.deps.Logger.Info("search started", "target", m.query.TargetCount)

	for !m.state.Terminal() {
		m.Step(ctx)
	}

	res := m.Result()
	m.deps.Logger.Info("search finished",
		"state", res.State.String(),
		"reason", res.Reason,
		"records", len(res.Records),
		"pages", res.Pages,
	)
	return res
}

func (m *Machine) Result() Result {
	return Result{
		Query:   m.query,
		Records: m.results.Records(),
		State:   m.state,
		Reason:  m.reason,
		Pages:   m.pages,
		Err:     m.err,
	}
}

// Step performs one iteration of the loop and returns the new state.
// Calling Step on a terminated machine is a no-op.
func (m *Machine) Step(ctx context.Context) State {
	if m.state.Terminal() {
		return m.state
	}
	if err := ctx.Err(); err != nil {
		m.terminate(StateError, models.ReasonCancelled, err)
		return m.state
	}

	req := BuildPageRequest(m.cfg.BaseURL, m.query.Keyword, m.page)
	log := m.deps.Logger.With("page", req.PageNumber)

	allowed, err := m.deps.Policy.Allowed(ctx, req.URL)
	if err != nil {
		log.Error("crawl policy undetermined, stopping", "url", req.URL, "error", err)
		m.terminate(StateError, models.ReasonPolicyUndetermined, err)
		return m.state
	}
	if !allowed {
		log.Warn("access disallowed by robots.txt, stopping", "url", req.URL)
		m.terminate(StateExhausted, models.ReasonPolicyDisallowed, fmt.Errorf("%w: %s", ErrPolicyDisallowed, req.URL))
		return m.state
	}

	header := m.base.Clone()
	header.Set("User-Agent", m.deps.UserAgents.UserAgent())

	status, body, fetchErr := m.deps.Fetcher.Fetch(ctx, req.URL, header)
	if fetchErr != nil && ctx.Err() != nil {
		m.terminate(StateError, models.ReasonCancelled, ctx.Err())
		return m.state
	}

	outcome := Classify(status, body, fetchErr)
	switch outcome.Kind {
	case models.OutcomeSuccess:
		m.accept(ctx, log, outcome.Body)
	case models.OutcomeThrottled:
		log.Warn("503 encountered, retrying after a longer delay")
		m.retry(ctx, log, ErrHTTPThrottled)
	case models.OutcomeNetworkError:
		log.Warn("request failed, retrying", "error", outcome.Cause)
		m.retry(ctx, log, fmt.Errorf("%w: %v", ErrNetworkFailure, outcome.Cause))
	default:
		log.Error("failed to fetch page", "status", outcome.StatusCode)
		m.terminate(StateExhausted, models.ReasonHTTPNonRetryable,
			fmt.Errorf("%w: page %d returned %d", ErrHTTPNonRetryable, req.PageNumber, outcome.StatusCode))
	}

	return m.state
}

func (m *Machine) accept(ctx context.Context, log *slog.Logger, body []byte) {
	doc, err := parser.ParseDocument(body)
	if err != nil {
		log.Warn("failed to parse page, retrying", "error", err)
		m.retry(ctx, log, fmt.Errorf("%w: %v", ErrNetworkFailure, err))
		return
	}

	m.failures = 0
	m.pages++

	found := m.deps.Extractor.CountListings(doc)
	added := 0
	for record := range m.deps.Extractor.Extract(doc, m.results.Remaining()) {
		added += m.results.Append(record)
	}

	log.Info("page processed", "found", found, "added", added, "total", m.results.Len())
	if m.deps.OnPage != nil {
		m.deps.OnPage(PageEvent{
			Page:     m.page,
			Found:    found,
			Added:    added,
			Total:    m.results.Len(),
			Complete: m.results.Full(),
		})
	}

	switch {
	case m.results.Full():
		m.terminate(StateComplete, models.ReasonComplete, nil)
		return
	case found == 0:
		log.Info("no listings on page, stopping")
		m.terminate(StateExhausted, models.ReasonNoMoreResults, nil)
		return
	case m.cfg.MaxPages > 0 && m.pages >= m.cfg.MaxPages:
		log.Info("page limit reached, stopping", "max_pages", m.cfg.MaxPages)
		m.terminate(StateExhausted, models.ReasonPageLimit, nil)
		return
	}

	if err := m.deps.Sleeper.Sleep(ctx, m.deps.Pacer.NormalDelay()); err != nil {
		m.terminate(StateError, models.ReasonCancelled, err)
		return
	}
	m.page++
}

// retry keeps the page cursor where it is and waits the throttled delay,
// unless the retry policy has run out.
func (m *Machine) retry(ctx context.Context, log *slog.Logger, cause error) {
	if m.failures == 0 {
		m.retryStart = m.deps.Now()
	}
	m.failures++

	if m.cfg.Retry.Exhausted(m.failures, m.deps.Now().Sub(m.retryStart)) {
		log.Error("giving up on page", "attempts", m.failures, "error", cause)
		m.terminate(StateError, models.ReasonRetriesExhausted,
			fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, m.failures, cause))
		return
	}

	if err := m.deps.Sleeper.Sleep(ctx, m.deps.Pacer.ThrottledDelay()); err != nil {
		m.terminate(StateError, models.ReasonCancelled, err)
	}
}

func (m *Machine) terminate(state State, reason models.TerminationReason, err error) {
	m.state = state
	m.reason = reason
	m.err = err
}
