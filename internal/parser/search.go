package parser

import (
	"bytes"
	"fmt"
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-search-scraper/internal/models"
)

// Selectors locates the listing container and its sub-fragments.
type Selectors struct {
	Listing     string
	Title       string
	Price       string
	Rating      string
	Reviews     string
	Description string
}

func DefaultSelectors() Selectors {
	return Selectors{
		Listing:     `div[data-component-type="s-search-result"]`,
		Title:       "span.a-text-normal",
		Price:       "span.a-offscreen",
		Rating:      "span.a-icon-alt",
		Reviews:     "span.a-size-base",
		Description: "span.a-size-base-plus",
	}
}

type SearchParser struct {
	selectors Selectors
}

func NewSearchParser() *SearchParser {
	return &SearchParser{selectors: DefaultSelectors()}
}

func NewSearchParserWithSelectors(s Selectors) *SearchParser {
	return &SearchParser{selectors: s}
}

// ParseDocument parses a raw response body. goquery tolerates broken markup,
// so an error here means the reader itself failed.
func ParseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

func (p *SearchParser) CountListings(doc *goquery.Document) int {
	return doc.Find(p.selectors.Listing).Length()
}

// Extract yields at most capacity records in document order. The sequence
// is lazy: containers past the capacity boundary are never looked at.
func (p *SearchParser) Extract(doc *goquery.Document, capacity int) iter.Seq[models.ListingRecord] {
	return func(yield func(models.ListingRecord) bool) {
		if capacity <= 0 {
			return
		}
		produced := 0
		doc.Find(p.selectors.Listing).EachWithBreak(func(_ int, listing *goquery.Selection) bool {
			if !yield(p.extractListing(listing)) {
				return false
			}
			produced++
			return produced < capacity
		})
	}
}

func (p *SearchParser) extractListing(s *goquery.Selection) models.ListingRecord {
	title, _ := firstText(s, p.selectors.Title)
	price, _ := firstText(s, p.selectors.Price)
	description, _ := firstText(s, p.selectors.Description)

	rating := ""
	if raw, ok := rawText(s, p.selectors.Rating); ok {
		rating = leadingToken(raw)
	}

	// review count keeps the raw text, separators included
	reviews, _ := rawText(s, p.selectors.Reviews)

	return models.NewListingRecord(title, price, rating, reviews, description)
}

func rawText(s *goquery.Selection, selector string) (string, bool) {
	el := s.Find(selector).First()
	if el.Length() == 0 {
		return "", false
	}
	return el.Text(), true
}

func firstText(s *goquery.Selection, selector string) (string, bool) {
	text, ok := rawText(s, selector)
	return strings.TrimSpace(text), ok
}

// leadingToken returns the first whitespace separated token,
// e.g. "4.5" from "4.5 out of 5 stars".
func leadingToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
