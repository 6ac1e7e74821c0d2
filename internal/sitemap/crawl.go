package sitemap

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
)

// crawl is the last-resort discovery path: a breadth-first crawl from
// baseURL, bounded by CrawlMaxDepth and restricted to links under baseURL.
// Individual page failures are logged and skipped; an error is returned
// only when nothing at all could be fetched.
func (s *Source) crawl(ctx context.Context, baseURL string) ([]string, error) {
	c := colly.NewCollector(
		colly.UserAgent(s.config.UserAgent),
		colly.MaxDepth(s.config.CrawlMaxDepth),
	)
	c.SetClient(&http.Client{Timeout: s.config.Timeout})

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		urls []string
	)

	record := func(u string) {
		mu.Lock()
		defer mu.Unlock()
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		record(r.Request.URL.String())
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		// Drop fragments so anchors on the same page don't fan out
		if idx := strings.Index(link, "#"); idx != -1 {
			link = link[:idx]
		}
		if !strings.HasPrefix(link, baseURL) {
			return
		}

		record(link)

		if err := e.Request.Visit(link); err != nil {
			var alreadyVisited *colly.AlreadyVisitedError
			if !errors.As(err, &alreadyVisited) && err != colly.ErrMaxDepth {
				log.Debug().Err(err).Str("url", link).Msg("Skipping crawl link")
			}
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		log.Warn().
			Err(err).
			Str("url", r.Request.URL.String()).
			Int("status", r.StatusCode).
			Msg("Crawl fetch failed, skipping page")
	})

	err := c.Visit(baseURL)
	c.Wait()

	mu.Lock()
	defer mu.Unlock()

	if err != nil && len(urls) == 0 {
		return nil, err
	}

	log.Debug().
		Str("base_url", baseURL).
		Int("url_count", len(urls)).
		Int("max_depth", s.config.CrawlMaxDepth).
		Msg("Crawl fallback finished")

	return urls, nil
}
