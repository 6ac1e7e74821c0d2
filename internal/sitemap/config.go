package sitemap

import "time"

// Config holds the configuration for a discovery source.
type Config struct {
	CandidatePaths []string      // Ordered sitemap filenames tried against the base URL
	MaxRetries     int           // Attempts per candidate before giving up on it
	BackoffBase    time.Duration // Retry delay grows as base * attempt
	CrawlMaxDepth  int           // Depth bound for the crawl fallback
	Timeout        time.Duration // Per-request timeout
	UserAgent      string        // User agent string for requests
}

// DefaultConfig returns a Config instance with default values.
func DefaultConfig() *Config {
	return &Config{
		CandidatePaths: []string{
			"sitemap.xml",
			"pages-sitemap.xml",
			"blog-sitemap.xml",
			"blog-posts-sitemap.xml",
			"blog-categories-sitemap.xml",
			"product-sitemap.xml",
			"booking-services-sitemap.xml",
			"portfolio-sitemap.xml",
		},
		MaxRetries:    3,
		BackoffBase:   500 * time.Millisecond,
		CrawlMaxDepth: 2,
		Timeout:       30 * time.Second,
		UserAgent:     "SiteLevels/1.0 (+https://github.com/sitelevels/sitelevels)",
	}
}
