package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLevels(t *testing.T) {
	c := New()

	tests := []struct {
		name     string
		url      string
		expected int
	}{
		{
			name:     "root",
			url:      "https://example.com/",
			expected: 1,
		},
		{
			name:     "bare_domain",
			url:      "https://example.com",
			expected: 1,
		},
		{
			name:     "about_page",
			url:      "https://example.com/about",
			expected: 1,
		},
		{
			name:     "team_page",
			url:      "https://example.com/team",
			expected: 2,
		},
		{
			name:     "blog_listing",
			url:      "https://example.com/blog",
			expected: 3,
		},
		{
			name:     "blog_post",
			url:      "https://example.com/blog/my-post",
			expected: 4,
		},
		{
			name:     "news_article",
			url:      "https://example.com/news/big-announcement",
			expected: 4,
		},
		{
			name:     "product_detail",
			url:      "https://example.com/products/widget",
			expected: 5,
		},
		{
			name:     "booking_page",
			url:      "https://example.com/book-online",
			expected: 6,
		},
		{
			name:     "terms_page",
			url:      "https://example.com/terms-of-service",
			expected: 7,
		},
		{
			name:     "portfolio_item",
			url:      "https://example.com/portfolio/spring-campaign",
			expected: 8,
		},
		{
			name:     "tag_listing",
			url:      "https://example.com/tags/golang",
			expected: 9,
		},
		{
			name:     "unmatched_deep_path_uses_segment_count",
			url:      "https://example.com/random/deep/path",
			expected: 3,
		},
		{
			name:     "unmatched_single_segment",
			url:      "https://example.com/zzz-unknown",
			expected: 1,
		},
		{
			name:     "case_insensitive",
			url:      "https://example.com/Blog/My-Post",
			expected: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.Classify(tt.url, ""))
		})
	}
}

func TestClassifySourceDocumentOverride(t *testing.T) {
	c := New()

	tests := []struct {
		name     string
		url      string
		doc      string
		expected int
	}{
		{
			name:     "pages_sitemap",
			url:      "https://example.com/random/deep/path",
			doc:      "pages-sitemap.xml",
			expected: 1,
		},
		{
			name:     "blog_categories_sitemap",
			url:      "https://example.com/whatever",
			doc:      "blog-categories-sitemap.xml",
			expected: 3,
		},
		{
			name:     "blog_posts_sitemap_beats_pattern",
			url:      "https://example.com/about",
			doc:      "blog-posts-sitemap.xml",
			expected: 4,
		},
		{
			name:     "booking_services_sitemap",
			url:      "https://example.com/anything",
			doc:      "booking-services-sitemap.xml",
			expected: 6,
		},
		{
			name:     "portfolio_sitemap",
			url:      "https://example.com/anything",
			doc:      "https://example.com/portfolio-sitemap.xml",
			expected: 8,
		},
		{
			name:     "unknown_document_falls_through",
			url:      "https://example.com/team",
			doc:      "sitemap.xml",
			expected: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.Classify(tt.url, tt.doc))
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New()

	urls := []string{
		"https://example.com/",
		"https://example.com/blog/my-post",
		"https://example.com/random/deep/path",
	}

	for _, u := range urls {
		first := c.Classify(u, "")
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, c.Classify(u, ""))
		}
	}
}

func TestMatchPattern(t *testing.T) {
	assert.True(t, matchPattern("", nil))
	assert.True(t, matchPattern("blog", []string{"blog"}))
	assert.True(t, matchPattern("blog/*", []string{"blog", "post"}))
	assert.False(t, matchPattern("blog/*", []string{"blog"}))
	assert.False(t, matchPattern("blog", []string{"blog", "post"}))
}
