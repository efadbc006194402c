/*
Copyright © 2025 the Floracast authors.
This file is part of Floracast.

Floracast is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Floracast is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Floracast.  If not, see <http://www.gnu.org/licenses/>.*/

package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ctessum/requestcache"
	"golang.org/x/time/rate"

	"github.com/spatialflora/floracast/internal/hash"
)

// Retry policy for upstream fetches. Client errors other than 429 are
// permanent; everything else retries with exponential backoff.
const (
	retryInitialInterval = time.Second
	retryMultiplier      = 2
	retryMaxInterval     = 60 * time.Second
	retryMaxAttempts     = 5
)

// fetchCacheEntries bounds the in-memory response cache. Re-running a
// crawl after a partial failure re-reads cached pages instead of
// re-fetching them.
const fetchCacheEntries = 2000

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("crawler: GET %s: status %d", e.URL, e.StatusCode)
}

// Client fetches upstream pages with rate limiting, retry, and response
// caching shared across the crawlers of one process.
type Client struct {
	// HTTPClient defaults to a client with a 30 s timeout.
	HTTPClient *http.Client
	// Limiter throttles outgoing requests; nil means unthrottled.
	Limiter *rate.Limiter
	// UserAgent is sent with every request.
	UserAgent string

	cache     *requestcache.Cache
	cacheOnce sync.Once
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// fetch performs one rate-limited GET with the retry policy.
func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	op := func() error {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c.UserAgent != "" {
			req.Header.Set("User-Agent", c.UserAgent)
		}
		resp, err := c.httpClient().Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			herr := &HTTPError{URL: url, StatusCode: resp.StatusCode}
			// 429 means back off and retry; other client errors will
			// not improve with repetition.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(herr)
			}
			return herr
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.Multiplier = retryMultiplier
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, retryMaxAttempts-1), ctx))
	return body, err
}

// Get fetches url through the shared response cache. Identical URLs are
// deduplicated and served from memory within one process lifetime.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	c.cacheOnce.Do(func() {
		c.cache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
			return c.fetch(ctx, request.(string))
		}, runtime.GOMAXPROCS(-1),
			requestcache.Deduplicate(), requestcache.Memory(fetchCacheEntries))
	})
	req := c.cache.NewRequest(ctx, url, hash.Hash(url))
	result, err := req.Result()
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
