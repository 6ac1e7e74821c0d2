// Package sitemap discovers the page URLs of a site. It tries an ordered
// list of candidate sitemap documents first and falls back to a
// depth-bounded crawl when none of them yields URLs. Partial results are
// always returned best-effort; only a total failure to reach the host
// surfaces as ErrDiscoveryFailed.
package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitelevels/sitelevels/internal/util"
)

// ErrDiscoveryFailed means every sitemap candidate and the crawl fallback
// failed for a property. It aborts that property's run only.
var ErrDiscoveryFailed = errors.New("discovery failed")

// maxIndexDepth bounds recursion through nested sitemap index files.
const maxIndexDepth = 3

// SitemapIndex models a sitemap index document.
type SitemapIndex struct {
	XMLName  xml.Name   `xml:"sitemapindex"`
	Sitemaps []ChildRef `xml:"sitemap"`
}

// ChildRef is one child sitemap reference inside an index.
type ChildRef struct {
	Loc string `xml:"loc"`
}

// URLSet models a regular sitemap document.
type URLSet struct {
	XMLName xml.Name   `xml:"urlset"`
	URLs    []URLEntry `xml:"url"`
}

// URLEntry is one url element; lastmod/changefreq/priority are
// informational only and ignored.
type URLEntry struct {
	Loc string `xml:"loc"`
}

// Discovery is the result of resolving a base URL: the discovered page
// URLs plus, per URL, the sitemap document it came from ("" for crawled
// URLs). Provenance feeds the classifier's source-document override.
type Discovery struct {
	URLs       []string
	Provenance map[string]string
}

// sourcedURL pairs a page URL with the base name of the sitemap document
// that listed it. URLs reached through a sitemap index carry the child
// document's name, not the index's.
type sourcedURL struct {
	URL    string
	Source string
}

// Source resolves the set of page URLs for a property.
type Source struct {
	config *Config
	client *http.Client
}

// New creates a Source. If config is nil, default configuration is used.
func New(config *Config) *Source {
	if config == nil {
		config = DefaultConfig()
	}
	return &Source{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Resolve discovers page URLs for baseURL. Candidates are tried in order
// and the first one yielding at least one URL wins; otherwise a
// depth-bounded crawl runs. Results are deduplicated by exact string.
func (s *Source) Resolve(ctx context.Context, baseURL string) (*Discovery, error) {
	base := util.NormaliseURL(baseURL)
	if base == "" {
		return nil, util.ErrMalformedURL
	}

	discovery := &Discovery{Provenance: make(map[string]string)}

	var sitemapURLs []string
	for _, candidate := range s.config.CandidatePaths {
		candidateURL := strings.TrimSuffix(base, "/") + "/" + candidate
		entries, err := s.fetchCandidate(ctx, candidateURL, 0)
		if err != nil {
			log.Warn().Err(err).Str("candidate", candidateURL).Msg("Sitemap candidate failed, trying next")
			continue
		}
		if len(entries) > 0 {
			log.Debug().
				Str("candidate", candidate).
				Int("url_count", len(entries)).
				Msg("Sitemap candidate yielded URLs")
			for _, entry := range entries {
				sitemapURLs = append(sitemapURLs, entry.URL)
				discovery.Provenance[entry.URL] = entry.Source
			}
			break
		}
	}

	var crawlURLs []string
	if len(sitemapURLs) == 0 {
		log.Debug().Str("base_url", base).Msg("No sitemap candidate yielded URLs, falling back to crawl")
		var err error
		crawlURLs, err = s.crawl(ctx, base)
		if err != nil && len(crawlURLs) == 0 {
			return nil, fmt.Errorf("no sitemap or crawl results for %s: %w", base, ErrDiscoveryFailed)
		}
	}

	discovery.URLs = union(sitemapURLs, crawlURLs)

	log.Debug().
		Str("base_url", base).
		Int("sitemap_urls", len(sitemapURLs)).
		Int("crawl_urls", len(crawlURLs)).
		Int("total", len(discovery.URLs)).
		Msg("Discovery complete")

	return discovery, nil
}

// fetchCandidate fetches and parses one sitemap document with retries.
// 404/403 are terminal for the candidate and yield an empty, error-free
// result; 5xx and transport errors retry with backoff, and exhausting the
// retries returns the last error so the caller can move on.
func (s *Source) fetchCandidate(ctx context.Context, sitemapURL string, depth int) ([]sourcedURL, error) {
	var lastErr error

	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		body, status, err := s.get(ctx, sitemapURL)
		switch {
		case err != nil:
			lastErr = err
			log.Debug().
				Err(err).
				Str("url", sitemapURL).
				Int("attempt", attempt).
				Msg("Sitemap fetch transport error")
		case status == http.StatusNotFound || status == http.StatusForbidden:
			// Not present at this location; no retry, not an error
			log.Debug().Str("url", sitemapURL).Int("status", status).Msg("Sitemap candidate not present")
			return nil, nil
		case status >= 200 && status < 300:
			return s.parseBody(ctx, sitemapURL, body, depth), nil
		default:
			lastErr = fmt.Errorf("sitemap fetch for %s returned status %d", sitemapURL, status)
			log.Debug().
				Str("url", sitemapURL).
				Int("status", status).
				Int("attempt", attempt).
				Msg("Sitemap fetch non-success status")
		}

		if attempt < s.config.MaxRetries {
			delay := time.Duration(attempt) * s.config.BackoffBase
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	log.Warn().
		Err(lastErr).
		Str("url", sitemapURL).
		Int("max_retries", s.config.MaxRetries).
		Msg("Sitemap fetch retries exhausted")

	return nil, lastErr
}

func (s *Source) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}

// parseBody extracts URLs from a sitemap document, recursing into child
// sitemaps when the document is an index. URLs listed directly are
// attributed to this document; URLs from child sitemaps keep the child's
// name so the classifier override sees the document that actually listed
// them.
func (s *Source) parseBody(ctx context.Context, sitemapURL string, body []byte, depth int) []sourcedURL {
	if bytes.Contains(body, []byte("<sitemapindex")) {
		if depth >= maxIndexDepth {
			log.Warn().Str("url", sitemapURL).Msg("Sitemap index nesting too deep, stopping")
			return nil
		}

		var index SitemapIndex
		if err := xml.Unmarshal(body, &index); err != nil {
			log.Warn().Err(err).Str("url", sitemapURL).Msg("Failed to parse sitemap index")
			return nil
		}

		var entries []sourcedURL
		for _, child := range index.Sitemaps {
			childURL := util.NormaliseURL(child.Loc)
			if childURL == "" {
				log.Warn().Str("loc", child.Loc).Msg("Invalid child sitemap URL, skipping")
				continue
			}
			childEntries, err := s.fetchCandidate(ctx, childURL, depth+1)
			if err != nil {
				log.Warn().Err(err).Str("url", childURL).Msg("Failed to fetch child sitemap")
				continue
			}
			entries = append(entries, childEntries...)
		}
		return entries
	}

	var set URLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		log.Warn().Err(err).Str("url", sitemapURL).Msg("Failed to parse sitemap")
		return nil
	}

	source := path.Base(sitemapURL)

	var entries []sourcedURL
	for _, entry := range set.URLs {
		if u := util.NormaliseURL(entry.Loc); u != "" {
			entries = append(entries, sourcedURL{URL: u, Source: source})
		} else {
			log.Debug().Str("loc", entry.Loc).Msg("Skipping invalid URL from sitemap")
		}
	}
	return entries
}

// union merges URL sets, deduplicating by exact string and preserving
// first-seen order.
func union(sets ...[]string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, set := range sets {
		for _, u := range set {
			if !seen[u] {
				seen[u] = true
				merged = append(merged, u)
			}
		}
	}
	return merged
}
