package listing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Fetcher retrieves and parses one search's results page per call. A single
// token-bucket limiter is shared across all searches so concurrent scan
// cycles can't stampede the upstream.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewFetcher creates a Fetcher. perMinute bounds outbound requests across
// all searches; userAgent must describe the client honestly.
func NewFetcher(userAgent string, timeout time.Duration, perMinute int) *Fetcher {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	if perMinute <= 0 {
		perMinute = 20
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		userAgent: userAgent,
	}
}

// Fetch performs one retrieval of rawURL and parses it according to kind.
// All failures come back as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, kind Kind) ([]Candidate, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Kind: FailTimeout, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: FailNetwork, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &FetchError{Kind: FailTimeout, Err: err}
		}
		return nil, &FetchError{Kind: FailNetwork, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable:
		// Access-denial statuses: the network or client identity is
		// disallowed, not a flaky connection.
		return nil, &FetchError{Kind: FailBlocked, Err: fmt.Errorf("status %d", resp.StatusCode)}
	default:
		return nil, &FetchError{Kind: FailNetwork, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var cands []Candidate
	switch kind {
	case KindRSS:
		cands, err = parseRSS(resp.Body)
	default:
		cands, err = parseHTML(resp.Body, rawURL)
	}
	if err != nil {
		return nil, &FetchError{Kind: FailParse, Err: err}
	}
	return cands, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
