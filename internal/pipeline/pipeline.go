// Package pipeline orchestrates one ingest run for a property: discover
// page URLs, classify each one, fetch metadata, build versioned records
// and merge them into the property's snapshot. A failure on one URL never
// aborts the batch; only total discovery failure aborts the run.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sitelevels/sitelevels/internal/classifier"
	"github.com/sitelevels/sitelevels/internal/metadata"
	"github.com/sitelevels/sitelevels/internal/observability"
	"github.com/sitelevels/sitelevels/internal/records"
	"github.com/sitelevels/sitelevels/internal/sitemap"
	"github.com/sitelevels/sitelevels/internal/snapshot"
	"github.com/sitelevels/sitelevels/internal/util"
)

// Discoverer resolves the page URLs of a property.
type Discoverer interface {
	Resolve(ctx context.Context, baseURL string) (*sitemap.Discovery, error)
}

// Store is the subset of snapshot.Store the pipeline needs.
type Store interface {
	Merge(ctx context.Context, property string, batch []records.Record) (*snapshot.MergeResult, error)
	UpsertProperty(ctx context.Context, info snapshot.PropertyInfo) error
}

// TechDetector fingerprints a property's technologies, best-effort.
type TechDetector interface {
	FetchAndDetect(ctx context.Context, baseURL string) (map[string][]string, error)
}

// Notifier receives progress and completion events. Implementations must
// tolerate being called from a single goroutine per run.
type Notifier interface {
	Progress(property string, processed, total int)
	Completed(ctx context.Context, report *Report)
}

// Config holds pipeline tuning knobs.
type Config struct {
	BatchSize         int     // URLs per sub-batch
	FetchConcurrency  int     // Concurrent metadata fetches within a sub-batch
	RequestsPerSecond float64 // Pacing for per-URL fetches
}

// DefaultConfig returns a Config instance with default values.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:         10,
		FetchConcurrency:  5,
		RequestsPerSecond: 5,
	}
}

// Report summarises one ingest run.
type Report struct {
	Property      string        `json:"property"`
	BaseURL       string        `json:"base_url"`
	RunID         string        `json:"run_id"`
	Discovered    int           `json:"discovered"`
	Merged        int           `json:"merged"`
	Skipped       int           `json:"skipped"`
	Rejected      int           `json:"rejected"`
	TopLevelCount int           `json:"top_level_count"`
	Stopped       bool          `json:"stopped"`
	Duration      time.Duration `json:"duration"`
}

// Pipeline wires the ingest stages together.
type Pipeline struct {
	source     Discoverer
	classifier *classifier.Classifier
	builder    *records.Builder
	fetcher    metadata.Fetcher
	store      Store
	notifier   Notifier
	detector   TechDetector
	limiter    *rate.Limiter
	config     *Config
	now        func() time.Time
}

// New creates a Pipeline. notifier and detector may be nil; a nil config
// gets defaults.
func New(source Discoverer, cls *classifier.Classifier, builder *records.Builder,
	fetcher metadata.Fetcher, store Store, notifier Notifier, detector TechDetector,
	config *Config) *Pipeline {

	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.FetchConcurrency <= 0 {
		config.FetchConcurrency = 1
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &Pipeline{
		source:     source,
		classifier: cls,
		builder:    builder,
		fetcher:    fetcher,
		store:      store,
		notifier:   notifier,
		detector:   detector,
		limiter:    limiter,
		config:     config,
		now:        time.Now,
	}
}

// Ingest runs one discovery-classify-fetch-merge cycle for a property.
// Cancellation is cooperative: ctx is polled between sub-batches, and
// already-merged sub-batches are preserved when the run stops early.
func (p *Pipeline) Ingest(ctx context.Context, property, baseURL string) (*Report, error) {
	base := util.NormaliseURL(baseURL)
	if base == "" {
		return nil, util.ErrMalformedURL
	}

	ctx, span := observability.StartIngestSpan(ctx, property)
	defer span.End()

	started := p.now()
	report := &Report{
		Property: property,
		BaseURL:  base,
		RunID:    uuid.New().String(),
	}

	log.Info().
		Str("property", property).
		Str("base_url", base).
		Str("run_id", report.RunID).
		Msg("Starting ingest run")

	discovery, err := p.source.Resolve(ctx, base)
	if err != nil {
		if errors.Is(err, sitemap.ErrDiscoveryFailed) {
			sentry.CaptureException(err)
			log.Error().Err(err).Str("property", property).Msg("Discovery failed, aborting run")
		}
		return nil, err
	}

	// Register the property before any merge so records have an index
	// entry to attach to. No timestamp yet; lastUpdated is stamped only
	// when the run completes.
	if err := p.store.UpsertProperty(ctx, snapshot.PropertyInfo{Name: property, BaseURL: base}); err != nil {
		sentry.CaptureException(err)
		return nil, err
	}

	urls := make([]string, len(discovery.URLs))
	copy(urls, discovery.URLs)
	sort.Strings(urls)

	report.Discovered = len(urls)
	total := len(urls)
	processed := 0

	for start := 0; start < total; start += p.config.BatchSize {
		if ctx.Err() != nil {
			report.Stopped = true
			log.Warn().
				Str("property", property).
				Int("processed", processed).
				Int("total", total).
				Msg("Ingest stopped, already-merged batches preserved")
			break
		}

		end := start + p.config.BatchSize
		if end > total {
			end = total
		}
		subBatch := urls[start:end]

		batch := p.buildBatch(ctx, subBatch, discovery.Provenance)
		report.Skipped += len(subBatch) - len(batch)

		if len(batch) > 0 {
			result, err := p.store.Merge(ctx, property, batch)
			if err != nil {
				return nil, err
			}
			report.Merged += result.Inserted
			report.Rejected += result.Rejected
			report.TopLevelCount = result.TopLevelCount
		}

		processed += len(subBatch)
		if p.notifier != nil {
			p.notifier.Progress(property, processed, total)
		}
	}

	if !report.Stopped {
		info := snapshot.PropertyInfo{
			Name:        property,
			BaseURL:     base,
			LastUpdated: p.now(),
		}
		if p.detector != nil {
			if technologies, err := p.detector.FetchAndDetect(ctx, base); err != nil {
				log.Warn().Err(err).Str("property", property).Msg("Technology detection failed, continuing without")
			} else {
				info.Technologies = technologies
			}
		}
		if err := p.store.UpsertProperty(ctx, info); err != nil {
			sentry.CaptureException(err)
			return nil, err
		}
	}

	report.Duration = p.now().Sub(started)
	observability.RecordIngestRun(ctx, property, report.Stopped)

	if p.notifier != nil {
		p.notifier.Completed(ctx, report)
	}

	log.Info().
		Str("property", property).
		Str("run_id", report.RunID).
		Int("discovered", report.Discovered).
		Int("merged", report.Merged).
		Int("skipped", report.Skipped).
		Bool("stopped", report.Stopped).
		Dur("duration", report.Duration).
		Msg("Ingest run finished")

	return report, nil
}

// buildBatch classifies and enriches one sub-batch. Metadata fetches run
// with bounded concurrency; a URL whose fetch fails is skipped and
// contributes no record.
func (p *Pipeline) buildBatch(ctx context.Context, urls []string, provenance map[string]string) []records.Record {
	results := make([]*records.Record, len(urls))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.FetchConcurrency)

	for i, rawURL := range urls {
		g.Go(func() error {
			if !util.IsValidURL(rawURL) {
				log.Warn().Str("url", rawURL).Err(util.ErrMalformedURL).Msg("Skipping invalid URL")
				return nil
			}

			if p.limiter != nil {
				if err := p.limiter.Wait(gctx); err != nil {
					return nil
				}
			}

			level := p.classifier.Classify(rawURL, provenance[rawURL])

			fetchStart := time.Now()
			meta, err := p.fetcher.Fetch(gctx, rawURL)
			observability.RecordURLProcessed(gctx, err == nil, time.Since(fetchStart))
			if err != nil {
				log.Warn().Err(err).Str("url", rawURL).Msg("Metadata fetch failed, skipping URL")
				return nil
			}

			// Top-level count is a placeholder; the store restamps it at merge
			rec := p.builder.Build(rawURL, level, 0, meta, p.now())

			mu.Lock()
			results[i] = &rec
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	batch := make([]records.Record, 0, len(urls))
	for _, rec := range results {
		if rec != nil {
			batch = append(batch, *rec)
		}
	}
	return batch
}
