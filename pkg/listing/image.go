package listing

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"
)

// ImageFetcher retrieves listing thumbnails for inline storage. The image
// CDN is a different origin than the listing pages and fails often enough
// that nothing here is allowed to leak past this boundary: one attempt, a
// short timeout, and every failure mode collapses to "absent".
type ImageFetcher struct {
	client    *http.Client
	userAgent string
}

// NewImageFetcher creates an ImageFetcher with its own timeout, independent
// of the listing fetcher's.
func NewImageFetcher(userAgent string, timeout time.Duration) *ImageFetcher {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &ImageFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Fetch attempts exactly one retrieval of imageURL and returns the image as
// a base64 payload, or "" when the image is unavailable, oversized, or not
// an image at all. Never returns an error: callers persist the item either
// way and the notification falls back to the original URL.
func (f *ImageFetcher) Fetch(ctx context.Context, imageURL string, capBytes int64) string {
	if imageURL == "" || capBytes <= 0 {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return ""
	}

	// Read one byte past the cap so oversize is detectable without
	// buffering the whole payload.
	data, err := io.ReadAll(io.LimitReader(resp.Body, capBytes+1))
	if err != nil || int64(len(data)) > capBytes || len(data) == 0 {
		return ""
	}

	return base64.StdEncoding.EncodeToString(data)
}
