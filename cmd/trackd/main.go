package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banshee-data/traffic.picture/internal/api"
	"github.com/banshee-data/traffic.picture/internal/config"
	"github.com/banshee-data/traffic.picture/internal/engine"
	"github.com/banshee-data/traffic.picture/internal/enrich"
	"github.com/banshee-data/traffic.picture/internal/feed"
	"github.com/banshee-data/traffic.picture/internal/httputil"
	"github.com/banshee-data/traffic.picture/internal/monitoring"
	"github.com/banshee-data/traffic.picture/internal/trackdb"
	"github.com/banshee-data/traffic.picture/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to tracking config JSON (defaults built in when empty)")
	listen      = flag.String("listen", ":8080", "Listen address")
	useAlt      = flag.Bool("alt", false, "Use the alternate dump1090-fa URL from the config")
	dbPath      = flag.String("db", "tracks.db", "SQLite file for the expired-track archive (empty disables archiving)")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// loadConfig returns the config at path, or an all-defaults config when
// path is empty.
func loadConfig(path string) (*config.TrackingConfig, error) {
	if path == "" {
		return config.EmptyTrackingConfig(), nil
	}
	return config.LoadTrackingConfig(path)
}

// services are the collaborators wired from a TrackingConfig.
type services struct {
	engine  *engine.Engine
	archive *trackdb.DB
	metrics *monitoring.Metrics
}

// buildServices wires the feed, enrichment, archive and metrics into an
// engine. The caller closes archive when non-nil.
func buildServices(cfg *config.TrackingConfig, alt bool, dbFile string, reg *prometheus.Registry) (*services, error) {
	httpClient := httputil.NewStandardClient(&http.Client{Timeout: cfg.GetFetchTimeout()})
	feedURL := cfg.GetDump1090URL(alt)

	source, err := feed.NewClient(feed.Config{
		BaseURL:    feedURL,
		HTTPClient: httpClient,
		Timeout:    cfg.GetFetchTimeout(),
	})
	if err != nil {
		return nil, err
	}

	metadata, err := enrich.NewMetadataClient(enrich.MetadataConfig{
		BaseURL:           feedURL,
		HTTPClient:        httpClient,
		CacheSize:         cfg.GetMetadataCacheSize(),
		RequestsPerSecond: cfg.GetEnrichmentRequestsPerSecond(),
		Timeout:           cfg.GetFetchTimeout(),
	})
	if err != nil {
		return nil, err
	}

	metrics, err := monitoring.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	ecfg := engine.Config{
		Source:             source,
		Metadata:           metadata,
		Metrics:            metrics,
		Thresholds:         cfg.Thresholds(),
		TrailLength:        cfg.GetSnailTrailLength(),
		FixedTracks:        cfg.FixedTracks(),
		WeatherStations:    cfg.WeatherStations(),
		LivePollInterval:   cfg.GetLivePollInterval(),
		RenderInterval:     cfg.GetRenderInterval(),
		HistorySettleDelay: cfg.GetHistorySettleDelay(),
		HistoryConcurrency: cfg.GetHistoryFetchConcurrency(),
	}

	if weatherURL := cfg.GetWeatherURL(); weatherURL != "" {
		weather, err := enrich.NewWeatherClient(enrich.WeatherConfig{
			URL:               weatherURL,
			HTTPClient:        httpClient,
			RequestsPerSecond: cfg.GetEnrichmentRequestsPerSecond(),
			Timeout:           cfg.GetFetchTimeout(),
		})
		if err != nil {
			return nil, err
		}
		ecfg.Weather = weather
	}

	var archive *trackdb.DB
	if dbFile != "" {
		archive, err = trackdb.Open(dbFile, trackdb.Options{
			Version: version.Version,
			FeedURL: feedURL,
		})
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		ecfg.Archiver = archive
	}

	eng, err := engine.New(ecfg)
	if err != nil {
		if archive != nil {
			_ = archive.Close()
		}
		return nil, err
	}
	return &services{engine: eng, archive: archive, metrics: metrics}, nil
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	monitoring.SetDebug(*debug)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := buildServices(cfg, *useAlt, *dbPath, reg)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	log.Printf("%s tracking %s", version.String(), cfg.GetDump1090URL(*useAlt))

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// engine routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.engine.Run(ctx); err != nil {
			log.Printf("engine stopped: %v", err)
		}
		log.Print("engine routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		var archive api.ArchiveReader
		if svc.archive != nil {
			archive = svc.archive
		}
		mux := api.NewServer(svc.engine, archive, svc.metrics).ServeMux()

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	if svc.archive != nil {
		if err := svc.archive.Close(); err != nil {
			log.Printf("failed to close archive: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}
