package parser

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullListing = `<div data-component-type="s-search-result" data-asin="B0TEST0001">
	<h2><a href="/dp/B0TEST0001"><span class="a-size-medium a-color-base a-text-normal">
		Stainless Steel Electric Kettle 1.7L
	</span></a></h2>
	<span class="a-price"><span class="a-offscreen"> $24.99 </span></span>
	<i class="a-icon a-icon-star-small"><span class="a-icon-alt">4.5 out of 5 stars</span></i>
	<span class="a-size-base s-underline-text">12,345</span>
	<span class="a-size-base-plus a-color-base"> Brushed finish, auto shut-off </span>
</div>`

func page(listings ...string) []byte {
	return []byte("<html><body><div class=\"s-main-slot\">" + strings.Join(listings, "\n") + "</div></body></html>")
}

func titled(title string) string {
	return fmt.Sprintf(`<div data-component-type="s-search-result"><span class="a-text-normal">%s</span></div>`, title)
}

func TestExtractFullListing(t *testing.T) {
	doc, err := ParseDocument(page(fullListing))
	require.NoError(t, err)

	records := slices.Collect(NewSearchParser().Extract(doc, 10))
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "Stainless Steel Electric Kettle 1.7L", r.Title)
	assert.Equal(t, "$24.99", r.Price)
	assert.Equal(t, "4.5", r.Rating)
	assert.Equal(t, "12,345", r.ReviewCount)
	assert.Equal(t, "Brushed finish, auto shut-off", r.Description)
}

func TestExtractDefaultsMissingFragments(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected models.ListingRecord
	}{
		{
			name: "empty container",
			html: `<div data-component-type="s-search-result"></div>`,
			expected: models.ListingRecord{
				Title: "N/A", Price: "N/A", Rating: "N/A", ReviewCount: "0", Description: "N/A",
			},
		},
		{
			name: "title only",
			html: titled("Desk Lamp"),
			expected: models.ListingRecord{
				Title: "Desk Lamp", Price: "N/A", Rating: "N/A", ReviewCount: "0", Description: "N/A",
			},
		},
		{
			name: "blank rating text",
			html: `<div data-component-type="s-search-result"><span class="a-icon-alt">   </span></div>`,
			expected: models.ListingRecord{
				Title: "N/A", Price: "N/A", Rating: "N/A", ReviewCount: "0", Description: "N/A",
			},
		},
		{
			name: "unclosed tags",
			html: `<div data-component-type="s-search-result"><span class="a-offscreen">$5.00</span><span class="a-icon-alt">3.9 out of 5 stars`,
			expected: models.ListingRecord{
				Title: "N/A", Price: "$5.00", Rating: "3.9", ReviewCount: "0", Description: "N/A",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument(page(tt.html))
			require.NoError(t, err)

			records := slices.Collect(NewSearchParser().Extract(doc, 5))
			require.Len(t, records, 1)
			assert.Equal(t, tt.expected, records[0])
		})
	}
}

func TestExtractRatingLeadingToken(t *testing.T) {
	doc, err := ParseDocument(page(`<div data-component-type="s-search-result"><span class="a-icon-alt">4.5 out of 5 stars</span></div>`))
	require.NoError(t, err)

	records := slices.Collect(NewSearchParser().Extract(doc, 1))
	require.Len(t, records, 1)
	assert.Equal(t, "4.5", records[0].Rating)
}

func TestExtractTruncatesAtCapacity(t *testing.T) {
	doc, err := ParseDocument(page(titled("one"), titled("two"), titled("three"), titled("four"), titled("five")))
	require.NoError(t, err)

	p := NewSearchParser()
	assert.Equal(t, 5, p.CountListings(doc))

	for capacity := 0; capacity <= 6; capacity++ {
		records := slices.Collect(p.Extract(doc, capacity))
		want := min(capacity, 5)
		require.Len(t, records, want, "capacity %d", capacity)

		expected := []string{"one", "two", "three", "four", "five"}[:want]
		var titles []string
		for _, r := range records {
			titles = append(titles, r.Title)
		}
		if want == 0 {
			assert.Empty(t, titles)
		} else {
			assert.Equal(t, expected, titles)
		}
	}
}

func TestExtractStopsWhenConsumerBreaks(t *testing.T) {
	doc, err := ParseDocument(page(titled("one"), titled("two"), titled("three")))
	require.NoError(t, err)

	var seen []string
	for r := range NewSearchParser().Extract(doc, 3) {
		seen = append(seen, r.Title)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"one", "two"}, seen)
}

func TestExtractIgnoresNonListingMarkup(t *testing.T) {
	doc, err := ParseDocument(page(
		`<div data-component-type="s-impression-logger"><span class="a-text-normal">Sponsored banner</span></div>`,
		titled("Real result"),
	))
	require.NoError(t, err)

	records := slices.Collect(NewSearchParser().Extract(doc, 10))
	require.Len(t, records, 1)
	assert.Equal(t, "Real result", records[0].Title)
}
