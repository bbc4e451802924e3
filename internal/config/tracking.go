package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/traffic.picture/internal/track"
)

// DefaultConfigPath is the path to the canonical tracking defaults file.
const DefaultConfigPath = "config/tracking.defaults.json"

// Built-in defaults, used by the Get* accessors when a field is omitted.
const (
	DefaultSnailTrailLength            = 500
	DefaultDeadReckonThreshold         = 1 * time.Second
	DefaultAnticipatedThreshold        = 60 * time.Second
	DefaultDropThreshold               = 300 * time.Second
	DefaultDropAtZeroAltitudeThreshold = 30 * time.Second
	DefaultLivePollInterval            = 10 * time.Second
	DefaultRenderInterval              = 1 * time.Second
	DefaultHistorySettleDelay          = 9 * time.Second
	DefaultFetchTimeout                = 9 * time.Second
	DefaultHistoryFetchConcurrency     = 8
	DefaultMetadataCacheSize           = 4096
	DefaultEnrichmentRequestsPerSecond = 10.0
	DefaultDump1090URL                 = "http://localhost/dump1090-fa/"
	DefaultWeatherURL                  = "https://aviationweather.gov/api/data/metar"
)

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// Site is a fixed entity provisioned from configuration: the base station,
// an airport or a seaport.
type Site struct {
	Name  string   `json:"name"`
	ICAO  string   `json:"icao,omitempty"`
	Lat   float64  `json:"lat"`
	Lon   float64  `json:"lon"`
	Notes []string `json:"notes,omitempty"`
}

func (s Site) validate(field string) error {
	if s.Lat < -90 || s.Lat > 90 {
		return fmt.Errorf("%s: lat must be between -90 and 90, got %f", field, s.Lat)
	}
	if s.Lon < -180 || s.Lon > 180 {
		return fmt.Errorf("%s: lon must be between -180 and 180, got %f", field, s.Lon)
	}
	return nil
}

// TrackingConfig is the root configuration for the tracking engine. Every
// field is optional: omitted fields fall back to the built-in defaults via
// the Get* accessors, so partial files are safe.
type TrackingConfig struct {
	// Track store and lifecycle
	SnailTrailLength            *int    `json:"snail_trail_length,omitempty"`
	DeadReckonThreshold         *string `json:"dead_reckon_threshold,omitempty"` // duration string like "1s"
	AnticipatedThreshold        *string `json:"anticipated_threshold,omitempty"`
	DropThreshold               *string `json:"drop_threshold,omitempty"`
	DropAtZeroAltitudeThreshold *string `json:"drop_at_zero_altitude_threshold,omitempty"`

	// Scheduling
	LivePollInterval        *string `json:"live_poll_interval,omitempty"`
	RenderInterval          *string `json:"render_interval,omitempty"`
	HistorySettleDelay      *string `json:"history_settle_delay,omitempty"`
	FetchTimeout            *string `json:"fetch_timeout,omitempty"`
	HistoryFetchConcurrency *int    `json:"history_fetch_concurrency,omitempty"`

	// Collaborators
	Dump1090URL                 *string  `json:"dump1090_url,omitempty"`
	Dump1090AltURL              *string  `json:"dump1090_alt_url,omitempty"`
	WeatherURL                  *string  `json:"weather_url,omitempty"`
	MetadataCacheSize           *int     `json:"metadata_cache_size,omitempty"`
	EnrichmentRequestsPerSecond *float64 `json:"enrichment_requests_per_second,omitempty"`

	// Fixed entities
	BaseStation *Site  `json:"base_station,omitempty"`
	Airports    []Site `json:"airports,omitempty"`
	Seaports    []Site `json:"seaports,omitempty"`
}

// EmptyTrackingConfig returns a TrackingConfig with all fields unset.
func EmptyTrackingConfig() *TrackingConfig {
	return &TrackingConfig{}
}

// LoadTrackingConfig loads a TrackingConfig from a JSON file. The file must
// have a .json extension and be at most 1 MB.
func LoadTrackingConfig(path string) (*TrackingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTrackingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *TrackingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTrackingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

var durationFields = []struct {
	name string
	get  func(*TrackingConfig) *string
}{
	{"dead_reckon_threshold", func(c *TrackingConfig) *string { return c.DeadReckonThreshold }},
	{"anticipated_threshold", func(c *TrackingConfig) *string { return c.AnticipatedThreshold }},
	{"drop_threshold", func(c *TrackingConfig) *string { return c.DropThreshold }},
	{"drop_at_zero_altitude_threshold", func(c *TrackingConfig) *string { return c.DropAtZeroAltitudeThreshold }},
	{"live_poll_interval", func(c *TrackingConfig) *string { return c.LivePollInterval }},
	{"render_interval", func(c *TrackingConfig) *string { return c.RenderInterval }},
	{"history_settle_delay", func(c *TrackingConfig) *string { return c.HistorySettleDelay }},
	{"fetch_timeout", func(c *TrackingConfig) *string { return c.FetchTimeout }},
}

// Validate checks that the configuration values are valid.
func (c *TrackingConfig) Validate() error {
	var errs []error

	if c.SnailTrailLength != nil && *c.SnailTrailLength < 1 {
		errs = append(errs, fmt.Errorf("snail_trail_length must be at least 1, got %d", *c.SnailTrailLength))
	}
	for _, f := range durationFields {
		v := f.get(c)
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", f.name, *v, err))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", f.name, *v))
		}
	}
	if c.HistoryFetchConcurrency != nil && *c.HistoryFetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("history_fetch_concurrency must be at least 1, got %d", *c.HistoryFetchConcurrency))
	}
	if c.MetadataCacheSize != nil && *c.MetadataCacheSize < 1 {
		errs = append(errs, fmt.Errorf("metadata_cache_size must be at least 1, got %d", *c.MetadataCacheSize))
	}
	if c.EnrichmentRequestsPerSecond != nil && *c.EnrichmentRequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("enrichment_requests_per_second must be positive, got %f", *c.EnrichmentRequestsPerSecond))
	}
	for name, raw := range map[string]*string{
		"dump1090_url":     c.Dump1090URL,
		"dump1090_alt_url": c.Dump1090AltURL,
		"weather_url":      c.WeatherURL,
	} {
		if raw == nil || *raw == "" {
			continue
		}
		u, err := url.Parse(*raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", name, *raw))
		}
	}
	if c.BaseStation != nil {
		if err := c.BaseStation.validate("base_station"); err != nil {
			errs = append(errs, err)
		}
	}
	for i, s := range c.Airports {
		if err := s.validate(fmt.Sprintf("airports[%d]", i)); err != nil {
			errs = append(errs, err)
		}
	}
	for i, s := range c.Seaports {
		if err := s.validate(fmt.Sprintf("seaports[%d]", i)); err != nil {
			errs = append(errs, err)
		}
	}

	// Threshold ordering is only checked once everything parses.
	if len(errs) == 0 {
		th := c.Thresholds()
		if th.Anticipated < th.DeadReckon {
			errs = append(errs, fmt.Errorf("anticipated_threshold (%s) must not be shorter than dead_reckon_threshold (%s)", th.Anticipated, th.DeadReckon))
		}
		if th.Drop < th.DropAtZeroAltitude {
			errs = append(errs, fmt.Errorf("drop_threshold (%s) must not be shorter than drop_at_zero_altitude_threshold (%s)", th.Drop, th.DropAtZeroAltitude))
		}
	}
	return errors.Join(errs...)
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetSnailTrailLength returns the trail bound or the default.
func (c *TrackingConfig) GetSnailTrailLength() int {
	if c.SnailTrailLength == nil || *c.SnailTrailLength < 1 {
		return DefaultSnailTrailLength
	}
	return *c.SnailTrailLength
}

func (c *TrackingConfig) GetDeadReckonThreshold() time.Duration {
	return durationOr(c.DeadReckonThreshold, DefaultDeadReckonThreshold)
}

func (c *TrackingConfig) GetAnticipatedThreshold() time.Duration {
	return durationOr(c.AnticipatedThreshold, DefaultAnticipatedThreshold)
}

func (c *TrackingConfig) GetDropThreshold() time.Duration {
	return durationOr(c.DropThreshold, DefaultDropThreshold)
}

func (c *TrackingConfig) GetDropAtZeroAltitudeThreshold() time.Duration {
	return durationOr(c.DropAtZeroAltitudeThreshold, DefaultDropAtZeroAltitudeThreshold)
}

func (c *TrackingConfig) GetLivePollInterval() time.Duration {
	return durationOr(c.LivePollInterval, DefaultLivePollInterval)
}

func (c *TrackingConfig) GetRenderInterval() time.Duration {
	return durationOr(c.RenderInterval, DefaultRenderInterval)
}

func (c *TrackingConfig) GetHistorySettleDelay() time.Duration {
	return durationOr(c.HistorySettleDelay, DefaultHistorySettleDelay)
}

func (c *TrackingConfig) GetFetchTimeout() time.Duration {
	return durationOr(c.FetchTimeout, DefaultFetchTimeout)
}

// GetHistoryFetchConcurrency returns how many history files are fetched at
// once, or the default.
func (c *TrackingConfig) GetHistoryFetchConcurrency() int {
	if c.HistoryFetchConcurrency == nil || *c.HistoryFetchConcurrency < 1 {
		return DefaultHistoryFetchConcurrency
	}
	return *c.HistoryFetchConcurrency
}

// GetDump1090URL returns the main feed URL, or the alternate one when alt is
// set and an alternate is configured.
func (c *TrackingConfig) GetDump1090URL(alt bool) string {
	if alt && c.Dump1090AltURL != nil && *c.Dump1090AltURL != "" {
		return *c.Dump1090AltURL
	}
	if c.Dump1090URL == nil || *c.Dump1090URL == "" {
		return DefaultDump1090URL
	}
	return *c.Dump1090URL
}

// GetWeatherURL returns the METAR endpoint, or "" when weather lookups are
// disabled by an explicit empty string.
func (c *TrackingConfig) GetWeatherURL() string {
	if c.WeatherURL == nil {
		return DefaultWeatherURL
	}
	return strings.TrimSpace(*c.WeatherURL)
}

func (c *TrackingConfig) GetMetadataCacheSize() int {
	if c.MetadataCacheSize == nil || *c.MetadataCacheSize < 1 {
		return DefaultMetadataCacheSize
	}
	return *c.MetadataCacheSize
}

func (c *TrackingConfig) GetEnrichmentRequestsPerSecond() float64 {
	if c.EnrichmentRequestsPerSecond == nil || *c.EnrichmentRequestsPerSecond <= 0 {
		return DefaultEnrichmentRequestsPerSecond
	}
	return *c.EnrichmentRequestsPerSecond
}

// Thresholds returns the lifecycle thresholds.
func (c *TrackingConfig) Thresholds() track.Thresholds {
	return track.Thresholds{
		DeadReckon:         c.GetDeadReckonThreshold(),
		Anticipated:        c.GetAnticipatedThreshold(),
		Drop:               c.GetDropThreshold(),
		DropAtZeroAltitude: c.GetDropAtZeroAltitudeThreshold(),
	}
}

type fixedSite struct {
	id    track.ID
	class track.Class
	site  Site
}

// fixedSites assigns ids in order: base station first, then airports, then
// seaports.
func (c *TrackingConfig) fixedSites() []fixedSite {
	var out []fixedSite
	add := func(class track.Class, s Site) {
		out = append(out, fixedSite{id: track.FixedID(len(out) + 1), class: class, site: s})
	}
	if c.BaseStation != nil {
		bs := *c.BaseStation
		if bs.Name == "" {
			bs.Name = "Base Station"
		}
		add(track.ClassFixedReference, bs)
	}
	for _, s := range c.Airports {
		add(track.ClassFixedAirFacility, s)
	}
	for _, s := range c.Seaports {
		add(track.ClassFixedSurfaceFacility, s)
	}
	return out
}

// FixedTracks builds the fixed entities from configuration.
func (c *TrackingConfig) FixedTracks() []*track.Track {
	sites := c.fixedSites()
	out := make([]*track.Track, 0, len(sites))
	for _, f := range sites {
		out = append(out, track.NewFixed(f.id, f.class, f.site.Name, f.site.Lat, f.site.Lon, f.site.Notes))
	}
	return out
}

// WeatherStations maps fixed track ids to the ICAO codes used for weather
// lookups. Only sites with an ICAO code are included.
func (c *TrackingConfig) WeatherStations() map[track.ID]string {
	out := make(map[track.ID]string)
	for _, f := range c.fixedSites() {
		if code := strings.ToUpper(strings.TrimSpace(f.site.ICAO)); code != "" {
			out[f.id] = code
		}
	}
	return out
}
