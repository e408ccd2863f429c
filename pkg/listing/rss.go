package listing

import (
	"fmt"
	"io"
	"strings"

	"github.com/mmcdole/gofeed"
)

// parseRSS extracts candidates from a marketplace search RSS feed. Feeds
// put the price in the title ("Bahnrad Rahmen 56cm, 120 €") or in the
// description; the entry GUID is the stable listing identity.
func parseRSS(r io.Reader) ([]Candidate, error) {
	feed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse search feed: %w", err)
	}

	var cands []Candidate
	for _, entry := range feed.Items {
		id := entry.GUID
		if id == "" {
			id = entry.Link
		}
		if id == "" {
			continue
		}

		cents, currency, ok := ParsePrice(entry.Title)
		if !ok {
			cents, currency, _ = ParsePrice(entry.Description)
		}

		imgURL := ""
		if entry.Image != nil {
			imgURL = entry.Image.URL
		}
		for _, enc := range entry.Enclosures {
			if strings.HasPrefix(enc.Type, "image/") {
				imgURL = enc.URL
				break
			}
		}

		cands = append(cands, Candidate{
			ExternalID: id,
			Title:      strings.TrimSpace(entry.Title),
			PriceCents: cents,
			Currency:   currency,
			URL:        entry.Link,
			ImageURL:   imgURL,
		})
	}

	return cands, nil
}
