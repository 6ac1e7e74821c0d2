// Package techdetect fingerprints the technologies a property runs on
// (CMS, CDN, frameworks). The result is informational, stored on the
// property index at ingest time.
package techdetect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"
)

// maxBodySample bounds how much of the page body is fed to fingerprinting.
const maxBodySample = 256 * 1024

// Detector wraps a wappalyzer client.
type Detector struct {
	client *wappalyzer.Wappalyze
	http   *http.Client
	mu     sync.RWMutex
}

var categoryNames map[int]string
var categoryNamesOnce sync.Once

// New creates a technology detector.
func New(timeout time.Duration) (*Detector, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise wappalyzer: %w", err)
	}

	categoryNamesOnce.Do(func() {
		categoryNames = make(map[int]string)
		for id, cat := range wappalyzer.GetCategoriesMapping() {
			categoryNames[id] = cat.Name
		}
	})

	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Detector{
		client: client,
		http:   &http.Client{Timeout: timeout},
	}, nil
}

// Detect maps technology names to their categories from response headers
// and body.
func (d *Detector) Detect(headers http.Header, body []byte) map[string][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(body) > maxBodySample {
		body = body[:maxBodySample]
	}

	fingerprints := d.client.GetFingerprints()

	technologies := make(map[string][]string)
	for app := range d.client.Fingerprint(headers, body) {
		// Detections may carry a version suffix ("PHP:8.2"); the
		// fingerprint table is keyed by the bare name
		tech, _, _ := strings.Cut(app, ":")
		if _, done := technologies[tech]; done {
			continue
		}

		categories := make([]string, 0)
		if fingerprint, ok := fingerprints.Apps[tech]; ok {
			for _, catID := range fingerprint.Cats {
				if name, ok := categoryNames[catID]; ok {
					categories = append(categories, name)
				}
			}
		}
		technologies[tech] = categories
	}

	log.Debug().
		Int("tech_count", len(technologies)).
		Msg("Technology detection completed")

	return technologies
}

// FetchAndDetect fetches the property's base URL and fingerprints the
// response. Failures are returned, not fatal; callers treat the
// fingerprint as best-effort.
func (d *Detector) FetchAndDetect(ctx context.Context, baseURL string) (map[string][]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build detection request: %w", err)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s for detection: %w", baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySample))
	if err != nil {
		return nil, fmt.Errorf("failed to read detection response: %w", err)
	}

	return d.Detect(resp.Header, body), nil
}
