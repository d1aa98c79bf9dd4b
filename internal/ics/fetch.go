package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	appLog "growcal/internal/log"
)

// maxBodyBytes bounds a fetched feed.
const maxBodyBytes = 10 << 20

// Fetcher retrieves remote ICS feeds. It remembers the ETag and body of
// each URL so repeated imports of an unchanged feed are cheap.
type Fetcher struct {
	client *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	etag         string
	lastModified string
	body         []byte
}

// NewFetcher creates a Fetcher. A nil client gets a 15 second timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cache: make(map[string]cacheEntry)}
}

// Fetch downloads the feed at url, honoring ETag and Last-Modified.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("source URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	cached, hasCache := f.cache[url]
	f.mu.Unlock()
	if hasCache {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	appLog.Info("ics fetch start", "url", RedactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", RedactURL(url), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[url] = cacheEntry{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			body:         body,
		}
		f.mu.Unlock()
		appLog.Info("ics fetch success", "url", RedactURL(url), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if !hasCache {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("ics fetch not modified; using cache", "url", RedactURL(url))
		return cached.body, nil

	default:
		return nil, fmt.Errorf("fetch %s: %s", RedactURL(url), resp.Status)
	}
}

// RedactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
