// Package metadata fetches per-page metadata (title, description, header
// tags, like count) for classified URLs. Field-level extraction failures
// degrade to sentinel values so a valid URL always yields usable metadata;
// only a failure to retrieve the page at all is reported as an error.
package metadata

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// Sentinel values used when a field cannot be extracted.
const (
	NoTitleFound     = "No Title Found"
	ErrFetchingTitle = "Error Fetching Title"
	NoDescription    = "No Description Found"
	ErrFetchingDesc  = "Error Fetching Description"
)

// headerTagNames are the heading elements collected into PageMeta.HeaderTags.
var headerTagNames = []string{"h1", "h2", "h3", "h4", "h5", "h6"}

// PageMeta holds the extracted metadata for a single page.
type PageMeta struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	HeaderTags  map[string][]string `json:"header_tags"`
	LikeCount   *int                `json:"like_count,omitempty"` // nil when not available
}

// Fetcher retrieves metadata for a page URL.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*PageMeta, error)
}

// HTTPFetcher fetches pages over HTTP and extracts metadata with goquery.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates an HTTPFetcher. A nil client gets a default with
// the given timeout (30s when zero).
func NewHTTPFetcher(client *http.Client, userAgent string, timeout time.Duration) *HTTPFetcher {
	if client == nil {
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

// Fetch retrieves a page and extracts its metadata. An unreachable page or
// non-success status is returned as an error; a page that loads but parses
// badly yields sentinel values instead.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (*PageMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("metadata fetch for %s returned status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("Failed to parse page HTML, using sentinel metadata")
		return &PageMeta{
			Title:       ErrFetchingTitle,
			Description: ErrFetchingDesc,
			HeaderTags:  emptyHeaderTags(),
		}, nil
	}

	return Extract(doc), nil
}

// Extract pulls metadata fields out of a parsed document.
func Extract(doc *goquery.Document) *PageMeta {
	meta := &PageMeta{
		Title:       NoTitleFound,
		Description: NoDescription,
		HeaderTags:  emptyHeaderTags(),
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta.Title = title
	}

	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		if desc = strings.TrimSpace(desc); desc != "" {
			meta.Description = desc
		}
	}

	for _, tag := range headerTagNames {
		doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if text != "" {
				key := strings.ToUpper(tag)
				meta.HeaderTags[key] = append(meta.HeaderTags[key], text)
			}
		})
	}

	meta.LikeCount = extractLikeCount(doc)

	return meta
}

func emptyHeaderTags() map[string][]string {
	tags := make(map[string][]string, len(headerTagNames))
	for _, tag := range headerTagNames {
		tags[strings.ToUpper(tag)] = []string{}
	}
	return tags
}

var digitsPattern = regexp.MustCompile(`\d+`)

// extractLikeCount looks for a like counter in the markup. Returns nil when
// no counter is present or its text has no parseable number.
func extractLikeCount(doc *goquery.Document) *int {
	if val, ok := doc.Find("[data-like-count]").First().Attr("data-like-count"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return &n
		}
		return nil
	}

	for _, selector := range []string{".like-count", ".likes-count", ".like-counter"} {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if match := digitsPattern.FindString(sel.Text()); match != "" {
			if n, err := strconv.Atoi(match); err == nil {
				return &n
			}
		}
		return nil
	}

	return nil
}
