package listing

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind identifies how a search's source URL is parsed.
type Kind string

const (
	KindHTML Kind = "html"
	KindRSS  Kind = "rss"
)

// Candidate is one listing as parsed from a search results page, before it
// has been compared against persisted state.
type Candidate struct {
	ExternalID string
	Title      string
	PriceCents int64
	Currency   string
	Condition  string
	Size       string
	URL        string
	ImageURL   string
}

// priceRe matches prices like "1.234 €", "45€" and "12,50 €".
var priceRe = regexp.MustCompile(`(\d{1,3}(?:\.\d{3})+|\d+)(?:,(\d{2}))?\s*€`)

// ParsePrice extracts a price from marketplace text. Thousands separators
// and "VB" suffixes are tolerated; giveaway listings parse as zero cents.
func ParsePrice(s string) (cents int64, currency string, ok bool) {
	if strings.Contains(strings.ToLower(s), "zu verschenken") {
		return 0, "EUR", true
	}
	m := priceRe.FindStringSubmatch(s)
	if m == nil {
		return 0, "", false
	}
	euros, err := strconv.ParseInt(strings.ReplaceAll(m[1], ".", ""), 10, 64)
	if err != nil {
		return 0, "", false
	}
	cents = euros * 100
	if m[2] != "" {
		dec, _ := strconv.ParseInt(m[2], 10, 64)
		cents += dec
	}
	return cents, "EUR", true
}

// Jitter sleeps for a random duration in [min, max]. Used between network
// calls within one scan cycle so request timing doesn't look mechanical to
// the upstream. Returns early if ctx is cancelled.
func Jitter(ctx context.Context, min, max time.Duration) {
	if max <= 0 || max < min {
		return
	}
	d := min
	if max > min {
		d = min + rand.N(max-min)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
