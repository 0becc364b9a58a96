package parser

import (
	"iter"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-search-scraper/internal/models"
)

// Extractor turns a parsed search-results page into listing records.
type Extractor interface {
	Extract(doc *goquery.Document, capacity int) iter.Seq[models.ListingRecord]
	CountListings(doc *goquery.Document) int
}
