package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/traffic.picture/internal/httputil"
	"github.com/banshee-data/traffic.picture/internal/monitoring"
	"github.com/banshee-data/traffic.picture/internal/timeutil"
)

const (
	defaultTimeout            = 9 * time.Second
	defaultHistoryConcurrency = 4
)

// Config holds the settings for a Client.
type Config struct {
	// BaseURL is the dump1090-fa root, e.g. "http://piaware/dump1090-fa/".
	BaseURL string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient httputil.HTTPClient
	// Timeout bounds every individual fetch. Zero means 9s.
	Timeout time.Duration
	// Clock supplies the cache-busting timestamp. Nil means RealClock.
	Clock timeutil.Clock
}

// Client fetches dump1090-fa JSON documents.
type Client struct {
	base    *url.URL
	http    httputil.HTTPClient
	timeout time.Duration
	clock   timeutil.Clock
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("feed url %q must be absolute", cfg.BaseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c := &Client{base: u, http: cfg.HTTPClient, timeout: cfg.Timeout, clock: cfg.Clock}
	if c.http == nil {
		c.http = httputil.NewStandardClient(nil)
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}
	return c, nil
}

// BaseURL returns the normalised base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) resolve(path string, query url.Values) string {
	u := c.base.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) fetch(ctx context.Context, target string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return httputil.FetchJSON(ctx, c.http, target, v)
}

// FetchLive fetches data/aircraft.json. The URL carries the local time in
// milliseconds so intermediate caches never serve a stale copy.
func (c *Client) FetchLive(ctx context.Context) (Batch, error) {
	q := url.Values{}
	q.Set("_", strconv.FormatInt(c.clock.Now().UnixMilli(), 10))
	var b Batch
	if err := c.fetch(ctx, c.resolve("data/aircraft.json", q), &b); err != nil {
		return Batch{}, fmt.Errorf("fetch live: %w", err)
	}
	return b, nil
}

// FetchReceiver fetches data/receiver.json.
func (c *Client) FetchReceiver(ctx context.Context) (Receiver, error) {
	var r Receiver
	if err := c.fetch(ctx, c.resolve("data/receiver.json", nil), &r); err != nil {
		return Receiver{}, fmt.Errorf("fetch receiver: %w", err)
	}
	return r, nil
}

// FetchHistory fetches data/history_<i>.json.
func (c *Client) FetchHistory(ctx context.Context, i int) (Batch, error) {
	if i < 0 {
		return Batch{}, fmt.Errorf("fetch history: negative index %d", i)
	}
	var b Batch
	if err := c.fetch(ctx, c.resolve(fmt.Sprintf("data/history_%d.json", i), nil), &b); err != nil {
		return Batch{}, fmt.Errorf("fetch history %d: %w", i, err)
	}
	return b, nil
}

// FetchAllHistory fetches history_0 .. history_<n-1> with at most limit
// requests in flight. A failed file does not stop the others: the batches
// that were fetched are returned sorted by source time together with the
// joined errors of those that were not.
func (c *Client) FetchAllHistory(ctx context.Context, n, limit int) ([]Batch, error) {
	if n <= 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultHistoryConcurrency
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		batches = make([]Batch, 0, n)
		joinErr error
	)
	g.SetLimit(limit)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			b, err := c.FetchHistory(ctx, i)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				monitoring.Debugf("feed: %v", err)
				joinErr = errors.Join(joinErr, err)
				return nil
			}
			batches = append(batches, b)
			return nil
		})
	}
	_ = g.Wait()

	SortBatches(batches)
	return batches, joinErr
}
