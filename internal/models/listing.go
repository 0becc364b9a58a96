package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidQuery = errors.New("invalid search query")

const (
	DefaultText        = "N/A"
	DefaultReviewCount = "0"

	// DefaultTargetCount is used when a caller does not ask for a specific number of records.
	DefaultTargetCount = 2000
)

// SearchQuery is the user's request. It is never mutated after creation.
type SearchQuery struct {
	Keyword     string `json:"keyword"`
	TargetCount int    `json:"target_count"`
}

func NewSearchQuery(keyword string, targetCount int) (SearchQuery, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return SearchQuery{}, fmt.Errorf("%w: keyword is required", ErrInvalidQuery)
	}
	if targetCount < 1 {
		return SearchQuery{}, fmt.Errorf("%w: target count must be at least 1, got %d", ErrInvalidQuery, targetCount)
	}
	return SearchQuery{Keyword: keyword, TargetCount: targetCount}, nil
}

type PageRequest struct {
	URL        string `json:"url"`
	PageNumber int    `json:"page_number"`
}

// ListingRecord holds one search result row. Every field is populated,
// either with scraped text or with its default.
type ListingRecord struct {
	Title       string `json:"title"`
	Price       string `json:"price"`
	Rating      string `json:"rating"`
	ReviewCount string `json:"reviews"`
	Description string `json:"description"`
}

func NewListingRecord(title, price, rating, reviewCount, description string) ListingRecord {
	return ListingRecord{
		Title:       orDefault(title, DefaultText),
		Price:       orDefault(price, DefaultText),
		Rating:      orDefault(rating, DefaultText),
		ReviewCount: orDefault(reviewCount, DefaultReviewCount),
		Description: orDefault(description, DefaultText),
	}
}

// CSVHeader is the column order used by every tabular sink.
var CSVHeader = []string{"Title", "Price", "Rating", "Reviews", "Description"}

func (r ListingRecord) Row() []string {
	return []string{r.Title, r.Price, r.Rating, r.ReviewCount, r.Description}
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

// ResultSet is an insertion-ordered collection capped at a fixed size.
type ResultSet struct {
	records []ListingRecord
	limit   int
}

func NewResultSet(limit int) *ResultSet {
	return &ResultSet{
		records: make([]ListingRecord, 0),
		limit:   limit,
	}
}

// Append adds records until the cap is hit and reports how many were kept.
func (rs *ResultSet) Append(records ...ListingRecord) int {
	accepted := 0
	for _, r := range records {
		if rs.Full() {
			break
		}
		rs.records = append(rs.records, r)
		accepted++
	}
	return accepted
}

func (rs *ResultSet) Len() int {
	return len(rs.records)
}

func (rs *ResultSet) Remaining() int {
	if rs.limit <= len(rs.records) {
		return 0
	}
	return rs.limit - len(rs.records)
}

func (rs *ResultSet) Full() bool {
	return len(rs.records) >= rs.limit
}

// Records returns a copy so callers cannot mutate the loop's set.
func (rs *ResultSet) Records() []ListingRecord {
	out := make([]ListingRecord, len(rs.records))
	copy(out, rs.records)
	return out
}
