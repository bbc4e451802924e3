package enrich

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/traffic.picture/internal/httputil"
)

// WeatherConfig holds the settings for a WeatherClient.
type WeatherConfig struct {
	// URL is the METAR endpoint; the station is passed as ?ids=<ICAO>.
	URL               string
	HTTPClient        httputil.HTTPClient
	RequestsPerSecond float64
	Timeout           time.Duration
}

// WeatherClient fetches raw METAR text for airports.
type WeatherClient struct {
	endpoint *url.URL
	http     httputil.HTTPClient
	timeout  time.Duration
	limiter  *rate.Limiter
}

// NewWeatherClient validates cfg and returns a WeatherClient.
func NewWeatherClient(cfg WeatherConfig) (*WeatherClient, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("weather client: url %q must be absolute", cfg.URL)
	}
	c := &WeatherClient{
		endpoint: u,
		http:     cfg.HTTPClient,
		timeout:  cfg.Timeout,
		limiter:  newLimiter(cfg.RequestsPerSecond),
	}
	if c.http == nil {
		c.http = httputil.NewStandardClient(nil)
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c, nil
}

// Lookup returns the non-empty lines of the METAR report for icao. An
// empty result means the station has no current report.
func (c *WeatherClient) Lookup(ctx context.Context, icao string) ([]string, error) {
	station := strings.ToUpper(strings.TrimSpace(icao))
	if station == "" {
		return nil, fmt.Errorf("weather lookup: empty station id")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("weather %s: %w", station, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.endpoint
	q := u.Query()
	q.Set("ids", station)
	u.RawQuery = q.Encode()

	body, err := httputil.Fetch(ctx, c.http, u.String(), 64<<10)
	if err != nil {
		return nil, fmt.Errorf("weather %s: %w", station, err)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("weather %s: %w", station, err)
	}
	return lines, nil
}
