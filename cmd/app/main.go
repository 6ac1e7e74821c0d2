package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sitelevels/sitelevels/internal/classifier"
	"github.com/sitelevels/sitelevels/internal/db"
	"github.com/sitelevels/sitelevels/internal/metadata"
	"github.com/sitelevels/sitelevels/internal/notifications"
	"github.com/sitelevels/sitelevels/internal/observability"
	"github.com/sitelevels/sitelevels/internal/pipeline"
	"github.com/sitelevels/sitelevels/internal/records"
	"github.com/sitelevels/sitelevels/internal/sitemap"
	"github.com/sitelevels/sitelevels/internal/snapshot"
	"github.com/sitelevels/sitelevels/internal/techdetect"
)

// Config holds the application configuration loaded from environment variables
type Config struct {
	Port                 string // HTTP port for health and metrics endpoints
	Env                  string // Environment (development/production)
	SentryDSN            string // Sentry DSN for error tracking
	LogLevel             string // Log level (debug, info, warn, error)
	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter
}

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	config := &Config{
		Port:                 getEnvWithDefault("PORT", "8080"),
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		OTLPEndpoint:         strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
	}

	setupLogging(config)

	property := flag.String("property", "", "Property name to record the snapshot under")
	baseURL := flag.String("url", "", "Base URL of the site to ingest")
	batchSize := flag.Int("batch-size", 10, "URLs merged per sub-batch")
	concurrency := flag.Int("concurrency", 5, "Concurrent metadata fetches")
	rps := flag.Float64("rps", 5, "Request pacing for metadata fetches, per second")
	flag.Parse()

	if *property == "" || *baseURL == "" {
		fmt.Fprintln(os.Stderr, "usage: app -property <name> -url <base-url> [-batch-size n] [-concurrency n] [-rps n]")
		os.Exit(2)
	}

	// Initialise Sentry for error tracking
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1
				}
				return 1.0
			}(),
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsProviders, err := observability.Init(context.Background(), observability.Config{
		Enabled:      config.ObservabilityEnabled,
		ServiceName:  "sitelevels",
		Environment:  config.Env,
		OTLPEndpoint: config.OTLPEndpoint,
		OTLPInsecure: config.OTLPInsecure,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise observability providers")
	} else if obsProviders != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := obsProviders.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
			}
		}()
	}

	// Connect to PostgreSQL, waiting out transient startup failures
	database, err := db.InitFromEnvWithRetry(ctx)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
	}
	defer database.Close()

	log.Info().Msg("Connected to PostgreSQL database")

	srv := startStatusServer(config, database, obsProviders)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("Graceful shutdown of status server failed")
		}
	}()

	store := snapshot.NewStore(db.NewRepository(database))

	discoveryConfig := sitemap.DefaultConfig()
	source := sitemap.New(discoveryConfig)

	fetcher := metadata.NewHTTPFetcher(nil, discoveryConfig.UserAgent, discoveryConfig.Timeout)

	detector, err := techdetect.New(10 * time.Second)
	if err != nil {
		log.Warn().Err(err).Msg("Technology detection unavailable, continuing without")
	}

	notifier := notifications.NewMulti(notifications.NewLogNotifier())
	if slackNotifier := notifications.NewSlackNotifierFromEnv(); slackNotifier != nil {
		notifier.Add(slackNotifier)
		log.Info().Msg("Slack run summaries enabled")
	}

	builder := records.NewBuilder(records.DefaultTargetLikesRange(), nil)

	var techDetector pipeline.TechDetector
	if detector != nil {
		techDetector = detector
	}

	p := pipeline.New(source, classifier.New(), builder, fetcher, store, notifier, techDetector, &pipeline.Config{
		BatchSize:         *batchSize,
		FetchConcurrency:  *concurrency,
		RequestsPerSecond: *rps,
	})

	report, err := p.Ingest(ctx, *property, *baseURL)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Str("property", *property).Msg("Ingest run failed")
	}

	if report.Stopped {
		log.Warn().
			Str("property", *property).
			Int("merged", report.Merged).
			Msg("Ingest stopped before completion, merged batches kept")
		return
	}

	log.Info().
		Str("property", *property).
		Int("pages", report.Merged).
		Int("top_level_count", report.TopLevelCount).
		Msg("Snapshot recorded")
}

// startStatusServer serves /health and /metrics while the run is in flight.
func startStatusServer(config *Config, database *db.DB, providers *observability.Providers) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	if providers != nil && providers.MetricsHandler != nil {
		mux.Handle("/metrics", providers.MetricsHandler)
	}

	var handler http.Handler = mux
	if providers != nil {
		handler = otelhttp.NewHandler(mux, "status")
	}

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("port", config.Port).Msg("Status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("Status server failed")
		}
	}()

	return srv
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "sitelevels").
			Logger()
	}
}
