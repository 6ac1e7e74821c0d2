package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitelevels/sitelevels/internal/classifier"
	"github.com/sitelevels/sitelevels/internal/metadata"
	"github.com/sitelevels/sitelevels/internal/records"
	"github.com/sitelevels/sitelevels/internal/sitemap"
	"github.com/sitelevels/sitelevels/internal/snapshot"
)

type fakeDiscoverer struct {
	discovery *sitemap.Discovery
	err       error
}

func (f *fakeDiscoverer) Resolve(ctx context.Context, baseURL string) (*sitemap.Discovery, error) {
	return f.discovery, f.err
}

type fakeFetcher struct {
	failing map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, pageURL string) (*metadata.PageMeta, error) {
	if f.failing[pageURL] {
		return nil, fmt.Errorf("fetch failed for %s", pageURL)
	}
	return &metadata.PageMeta{
		Title:       "Title for " + pageURL,
		Description: "Description",
		HeaderTags:  map[string][]string{"H1": {"Heading"}},
	}, nil
}

type recordingNotifier struct {
	progress  [][2]int
	completed *Report
	onProgress func()
}

func (n *recordingNotifier) Progress(property string, processed, total int) {
	n.progress = append(n.progress, [2]int{processed, total})
	if n.onProgress != nil {
		n.onProgress()
	}
}

func (n *recordingNotifier) Completed(ctx context.Context, report *Report) {
	n.completed = report
}

func newTestPipeline(disc Discoverer, fetcher metadata.Fetcher, store Store, notifier Notifier, cfg *Config) *Pipeline {
	builder := records.NewBuilder(records.DefaultTargetLikesRange(), rand.NewSource(1))
	return New(disc, classifier.New(), builder, fetcher, store, notifier, nil, cfg)
}

func TestIngestMergesDiscoveredURLs(t *testing.T) {
	disc := &fakeDiscoverer{discovery: &sitemap.Discovery{
		URLs: []string{
			"https://example.com/",
			"https://example.com/about",
			"https://example.com/blog/my-post",
		},
		Provenance: map[string]string{
			"https://example.com/blog/my-post": "blog-posts-sitemap.xml",
		},
	}}

	store := snapshot.NewStore(snapshot.NewMemoryRepository())
	notifier := &recordingNotifier{}
	p := newTestPipeline(disc, &fakeFetcher{}, store, notifier, nil)

	report, err := p.Ingest(context.Background(), "example", "example.com")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Discovered)
	assert.Equal(t, 3, report.Merged)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 2, report.TopLevelCount)
	assert.False(t, report.Stopped)
	assert.Equal(t, "https://example.com", report.BaseURL)

	groups, err := store.Snapshot(context.Background(), "example")
	require.NoError(t, err)
	require.Len(t, groups, 3)

	for _, g := range groups {
		if g.URL == "https://example.com/blog/my-post" {
			// Provenance override classifies this as an article page
			assert.Equal(t, 4, g.Versions[0].Level)
			assert.NotNil(t, g.Versions[0].TargetLikes)
		}
	}

	info, err := store.Property(context.Background(), "example")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", info.BaseURL)
	assert.False(t, info.LastUpdated.IsZero())

	require.NotNil(t, notifier.completed)
	assert.Equal(t, report.RunID, notifier.completed.RunID)
}

func TestIngestPartialFailureIsolation(t *testing.T) {
	var urls []string
	for i := 0; i < 10; i++ {
		urls = append(urls, fmt.Sprintf("https://example.com/page-%d", i))
	}
	disc := &fakeDiscoverer{discovery: &sitemap.Discovery{URLs: urls, Provenance: map[string]string{}}}

	store := snapshot.NewStore(snapshot.NewMemoryRepository())
	fetcher := &fakeFetcher{failing: map[string]bool{"https://example.com/page-3": true}}
	p := newTestPipeline(disc, fetcher, store, &recordingNotifier{}, nil)

	report, err := p.Ingest(context.Background(), "example", "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, 9, report.Merged)
	assert.Equal(t, 1, report.Skipped)

	groups, err := store.Snapshot(context.Background(), "example")
	require.NoError(t, err)
	assert.Len(t, groups, 9)
	for _, g := range groups {
		assert.NotEqual(t, "https://example.com/page-3", g.URL, "failed URL must contribute no record")
	}
}

func TestIngestDiscoveryFailedAbortsBeforeMerge(t *testing.T) {
	disc := &fakeDiscoverer{err: fmt.Errorf("no results: %w", sitemap.ErrDiscoveryFailed)}
	store := snapshot.NewStore(snapshot.NewMemoryRepository())
	p := newTestPipeline(disc, &fakeFetcher{}, store, &recordingNotifier{}, nil)

	_, err := p.Ingest(context.Background(), "example", "https://example.com")
	assert.ErrorIs(t, err, sitemap.ErrDiscoveryFailed)

	groups, err := store.Snapshot(context.Background(), "example")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestIngestProgressIsMonotonic(t *testing.T) {
	var urls []string
	for i := 0; i < 25; i++ {
		urls = append(urls, fmt.Sprintf("https://example.com/page-%02d", i))
	}
	disc := &fakeDiscoverer{discovery: &sitemap.Discovery{URLs: urls, Provenance: map[string]string{}}}

	notifier := &recordingNotifier{}
	store := snapshot.NewStore(snapshot.NewMemoryRepository())
	p := newTestPipeline(disc, &fakeFetcher{}, store, notifier, &Config{BatchSize: 10, FetchConcurrency: 3})

	_, err := p.Ingest(context.Background(), "example", "https://example.com")
	require.NoError(t, err)

	require.Len(t, notifier.progress, 3)
	prev := 0
	for _, frame := range notifier.progress {
		assert.Greater(t, frame[0], prev)
		assert.Equal(t, 25, frame[1])
		prev = frame[0]
	}
	assert.Equal(t, 25, prev)
}

func TestIngestStopBetweenBatchesPreservesProgress(t *testing.T) {
	var urls []string
	for i := 0; i < 6; i++ {
		urls = append(urls, fmt.Sprintf("https://example.com/page-%d", i))
	}
	disc := &fakeDiscoverer{discovery: &sitemap.Discovery{URLs: urls, Provenance: map[string]string{}}}

	ctx, cancel := context.WithCancel(context.Background())
	notifier := &recordingNotifier{onProgress: cancel}

	store := snapshot.NewStore(snapshot.NewMemoryRepository())
	p := newTestPipeline(disc, &fakeFetcher{}, store, notifier, &Config{BatchSize: 2, FetchConcurrency: 1})

	report, err := p.Ingest(ctx, "example", "https://example.com")
	require.NoError(t, err)

	assert.True(t, report.Stopped)
	assert.Equal(t, 2, report.Merged, "first sub-batch merged before stop")

	groups, err := store.Snapshot(context.Background(), "example")
	require.NoError(t, err)
	assert.Len(t, groups, 2, "already-merged records are preserved, not rolled back")

	// The property row exists from registration, but stopped runs never
	// stamp lastUpdated
	info, err := store.Property(context.Background(), "example")
	require.NoError(t, err)
	assert.True(t, info.LastUpdated.IsZero())
}

type orderedStore struct {
	inner *snapshot.Store
	ops   []string
}

func (s *orderedStore) Merge(ctx context.Context, property string, batch []records.Record) (*snapshot.MergeResult, error) {
	s.ops = append(s.ops, "merge")
	return s.inner.Merge(ctx, property, batch)
}

func (s *orderedStore) UpsertProperty(ctx context.Context, info snapshot.PropertyInfo) error {
	s.ops = append(s.ops, "upsert")
	return s.inner.UpsertProperty(ctx, info)
}

func TestIngestRegistersPropertyBeforeFirstMerge(t *testing.T) {
	disc := &fakeDiscoverer{discovery: &sitemap.Discovery{
		URLs:       []string{"https://example.com/", "https://example.com/about"},
		Provenance: map[string]string{},
	}}

	store := &orderedStore{inner: snapshot.NewStore(snapshot.NewMemoryRepository())}
	p := newTestPipeline(disc, &fakeFetcher{}, store, &recordingNotifier{}, nil)

	_, err := p.Ingest(context.Background(), "example", "https://example.com")
	require.NoError(t, err)

	// Registration must come first so inserted records always reference
	// an existing property row
	require.NotEmpty(t, store.ops)
	assert.Equal(t, "upsert", store.ops[0])
	assert.Equal(t, []string{"upsert", "merge", "upsert"}, store.ops)
}

func TestIngestRejectsMalformedBaseURL(t *testing.T) {
	store := snapshot.NewStore(snapshot.NewMemoryRepository())
	p := newTestPipeline(&fakeDiscoverer{}, &fakeFetcher{}, store, nil, nil)

	_, err := p.Ingest(context.Background(), "example", "")
	assert.Error(t, err)
}
