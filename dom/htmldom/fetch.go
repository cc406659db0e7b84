package htmldom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultUserAgent is sent by Fetch when the request carries none.
const DefaultUserAgent = "Mozilla/5.0 (compatible; feedveil/1.0)"

// maxBody caps a fetched document to prevent runaway downloads.
const maxBody = 10 << 20

// Fetch GETs pageURL and parses the response body. A nil client uses a
// 30-second timeout client.
func Fetch(ctx context.Context, client *http.Client, pageURL string) (*Document, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("htmldom: new request: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("htmldom: fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("htmldom: fetch %s: status %d", pageURL, resp.StatusCode)
	}
	return Parse(io.LimitReader(resp.Body, maxBody))
}
