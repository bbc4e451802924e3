// Package enrich looks up the slow-changing side data for tracks: aircraft
// registration and type from the dump1090-fa sharded database, and METAR
// lines for airports.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/banshee-data/traffic.picture/internal/httputil"
	"github.com/banshee-data/traffic.picture/internal/track"
)

const (
	defaultCacheSize = 4096
	defaultShardSize = 64
	defaultTimeout   = 9 * time.Second
	// maxShardDepth bounds the children walk. ICAO addresses have six hex
	// digits.
	maxShardDepth = 6
)

// ErrNotFound is returned when the database has no entry for an address.
var ErrNotFound = errors.New("no metadata entry")

// MetadataConfig holds the settings for a MetadataClient.
type MetadataConfig struct {
	// BaseURL is the dump1090-fa root; shards live under db/.
	BaseURL    string
	HTTPClient httputil.HTTPClient
	// CacheSize bounds the number of cached lookups. Zero means 4096.
	CacheSize int
	// RequestsPerSecond paces shard requests. Zero or less means no limit.
	RequestsPerSecond float64
	Timeout           time.Duration
}

type cacheEntry struct {
	md    track.Metadata
	found bool
}

// MetadataClient resolves ICAO addresses against the dump1090-fa aircraft
// database. Results, including misses, are cached. It is safe for
// concurrent use.
type MetadataClient struct {
	base    *url.URL
	http    httputil.HTTPClient
	timeout time.Duration
	limiter *rate.Limiter
	results *lru.Cache
	shards  *lru.Cache
}

// NewMetadataClient validates cfg and returns a MetadataClient.
func NewMetadataClient(cfg MetadataConfig) (*MetadataClient, error) {
	base, err := parseBase(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("metadata client: %w", err)
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	results, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("metadata cache: %w", err)
	}
	shards, err := lru.New(defaultShardSize)
	if err != nil {
		return nil, fmt.Errorf("shard cache: %w", err)
	}
	c := &MetadataClient{
		base:    base,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		limiter: newLimiter(cfg.RequestsPerSecond),
		results: results,
		shards:  shards,
	}
	if c.http == nil {
		c.http = httputil.NewStandardClient(nil)
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c, nil
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("url %q must be absolute", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Lookup returns the metadata for an ICAO address. It returns ErrNotFound
// when the database has no entry, and another error when a shard could not
// be fetched. Only definite answers are cached.
func (c *MetadataClient) Lookup(ctx context.Context, icao string) (track.Metadata, error) {
	key := strings.ToUpper(strings.TrimSpace(icao))
	if v, ok := c.results.Get(key); ok {
		e := v.(cacheEntry)
		if !e.found {
			return track.Metadata{}, ErrNotFound
		}
		return e.md, nil
	}
	if !isHex(key) {
		// Non-ICAO addresses (TIS-B "~" ids) are never in the database.
		c.results.Add(key, cacheEntry{})
		return track.Metadata{}, ErrNotFound
	}

	md, err := c.walk(ctx, key)
	switch {
	case err == nil:
		c.results.Add(key, cacheEntry{md: md, found: true})
	case errors.Is(err, ErrNotFound):
		c.results.Add(key, cacheEntry{})
	}
	return md, err
}

// CacheLen returns the number of cached lookups.
func (c *MetadataClient) CacheLen() int {
	return c.results.Len()
}

// walk follows the sharded layout: db/<prefix>.json holds entries keyed by
// the rest of the address, plus a "children" list naming longer prefixes
// that have been split into their own files.
func (c *MetadataClient) walk(ctx context.Context, icao string) (track.Metadata, error) {
	for level := 1; level <= len(icao) && level <= maxShardDepth; level++ {
		prefix, rest := icao[:level], icao[level:]
		shard, err := c.shard(ctx, prefix)
		if err != nil {
			return track.Metadata{}, err
		}
		if raw, ok := shard[rest]; ok {
			return decodeEntry(raw)
		}
		if rest == "" || !shard.hasChild(prefix+rest[:1]) {
			return track.Metadata{}, ErrNotFound
		}
	}
	return track.Metadata{}, ErrNotFound
}

type dbShard map[string]json.RawMessage

func (s dbShard) hasChild(prefix string) bool {
	raw, ok := s["children"]
	if !ok {
		return false
	}
	var children []string
	if err := json.Unmarshal(raw, &children); err != nil {
		return false
	}
	for _, ch := range children {
		if strings.EqualFold(ch, prefix) {
			return true
		}
	}
	return false
}

func (c *MetadataClient) shard(ctx context.Context, prefix string) (dbShard, error) {
	if v, ok := c.shards.Get(prefix); ok {
		return v.(dbShard), nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("shard %s: %w", prefix, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.base.ResolveReference(&url.URL{Path: "db/" + prefix + ".json"}).String()
	var shard dbShard
	err := httputil.FetchJSON(ctx, c.http, target, &shard)
	var statusErr *httputil.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		shard = dbShard{}
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("shard %s: %w", prefix, err)
	}
	c.shards.Add(prefix, shard)
	return shard, nil
}

type dbEntry struct {
	Registration    *string `json:"r"`
	TypeCode        *string `json:"t"`
	TypeDescription *string `json:"desc"`
	WakeCategory    *string `json:"wtc"`
}

func decodeEntry(raw json.RawMessage) (track.Metadata, error) {
	var e dbEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return track.Metadata{}, fmt.Errorf("decode entry: %w", err)
	}
	return track.Metadata{
		Registration:    trimmed(e.Registration),
		TypeCode:        trimmed(e.TypeCode),
		TypeDescription: trimmed(e.TypeDescription),
		WakeCategory:    trimmed(e.WakeCategory),
	}, nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
