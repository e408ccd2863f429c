package listing

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// parseHTML extracts candidates from a marketplace search results page.
// Each result is an <article> carrying a stable ad id in data-adid; that id
// is the dedup identity, everything else is display data. Pages that render
// without a results container classify as parse failures so an interstitial
// or consent wall is never mistaken for "zero results".
func parseHTML(r io.Reader, pageURL string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	results := doc.Find("article[data-adid]")
	if results.Length() == 0 && doc.Find("#srchrslt-adtable, .srp-results").Length() == 0 {
		return nil, fmt.Errorf("no results container in page")
	}

	base, _ := url.Parse(pageURL)

	var cands []Candidate
	results.Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-adid")
		if id == "" {
			return
		}

		link := s.Find("h2 a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			title = strings.TrimSpace(s.Find("a.ellipsis").First().Text())
		}

		href, _ := link.Attr("href")
		if href == "" {
			href, _ = s.Attr("data-href")
		}

		priceText := strings.TrimSpace(s.Find(".aditem-main--middle--price-shipping--price, .aditem-main--middle--price").First().Text())
		cents, currency, _ := ParsePrice(priceText)

		img := s.Find(".aditem-image img, .imagebox img").First()
		imgURL, ok := img.Attr("src")
		if !ok || imgURL == "" {
			// Lazy-loaded thumbnails keep the real URL in data-imgsrc.
			imgURL, _ = img.Attr("data-imgsrc")
		}

		// Result tags carry size then condition when the category provides
		// them; anything further (shipping, distance) is dropped.
		var tags []string
		s.Find(".simpletag").Each(func(_ int, t *goquery.Selection) {
			if v := strings.TrimSpace(t.Text()); v != "" {
				tags = append(tags, v)
			}
		})
		var condition, size string
		if len(tags) > 0 {
			size = tags[0]
		}
		if len(tags) > 1 {
			condition = tags[1]
		}

		cands = append(cands, Candidate{
			ExternalID: id,
			Title:      title,
			PriceCents: cents,
			Currency:   currency,
			Condition:  condition,
			Size:       size,
			URL:        absoluteURL(base, href),
			ImageURL:   absoluteURL(base, imgURL),
		})
	})

	return cands, nil
}

func absoluteURL(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
