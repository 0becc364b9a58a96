package scraper

import (
	"context"
	"log/slog"

	"github.com/maltedev/amazon-search-scraper/internal/crawler"
	"github.com/maltedev/amazon-search-scraper/internal/fetch"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/maltedev/amazon-search-scraper/internal/policy"
	"github.com/maltedev/amazon-search-scraper/internal/ratelimit"
)

// Service runs keyword searches against one storefront. The robots cache
// and HTTP connection pool are shared by every search it runs.
type Service struct {
	cfg    crawler.Config
	deps   crawler.Deps
	logger *slog.Logger
}

func NewService(opts Options, logger *slog.Logger) *Service {
	client := fetch.NewHTTPClient(opts.RequestTimeout)
	gate := policy.NewGate(client, policy.Options{
		FailOpen:  opts.RobotsFailOpen,
		UserAgent: opts.RobotsUserAgent,
	}, logger)

	return NewServiceWithDeps(opts, crawler.Deps{
		Fetcher:    client,
		Policy:     gate,
		Pacer:      ratelimit.NewJitterPacer(opts.MinDelay, opts.MaxDelay, opts.ThrottledDelay),
		Sleeper:    ratelimit.ContextSleeper,
		UserAgents: fetch.NewRandomUserAgents(opts.UserAgents),
	}, logger)
}

// NewServiceWithDeps lets callers replace the network, policy or clock.
// Deps.OnPage is ignored; pass a callback to Run instead.
func NewServiceWithDeps(opts Options, deps crawler.Deps, logger *slog.Logger) *Service {
	deps.Logger = logger
	deps.OnPage = nil

	return &Service{
		cfg: crawler.Config{
			BaseURL:  opts.BaseURL,
			MaxPages: opts.MaxPages,
			Retry:    opts.Retry,
		},
		deps:   deps,
		logger: logger.With("component", "scraper"),
	}
}

// Run executes one search to termination. onPage may be nil.
func (s *Service) Run(ctx context.Context, query models.SearchQuery, onPage func(crawler.PageEvent)) crawler.Result {
	deps := s.deps
	deps.OnPage = onPage

	res := crawler.New(query, s.cfg, deps).Run(ctx)
	if res.Err != nil {
		s.logger.Warn("search ended early",
			"keyword", query.Keyword,
			"reason", res.Reason,
			"records", len(res.Records),
			"error", res.Err)
	}
	return res
}

// Search collects up to maxResults listings for keyword. A maxResults below
// one or a blank keyword returns an empty set without issuing any request.
func (s *Service) Search(ctx context.Context, keyword string, maxResults int) (*models.ResultSet, models.TerminationReason) {
	if maxResults < 1 {
		return models.NewResultSet(0), models.ReasonComplete
	}

	query, err := models.NewSearchQuery(keyword, maxResults)
	if err != nil {
		s.logger.Warn("search rejected", "keyword", keyword, "error", err)
		return models.NewResultSet(maxResults), models.ReasonInvalidQuery
	}

	res := s.Run(ctx, query, nil)

	set := models.NewResultSet(maxResults)
	set.Append(res.Records...)
	return set, res.Reason
}
