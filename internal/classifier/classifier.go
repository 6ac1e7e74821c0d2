// Package classifier assigns site-hierarchy levels (1-9) to page URLs.
// Classification is a pure function of the URL and the sitemap document it
// was discovered in; the same inputs always produce the same level.
package classifier

import (
	"path"
	"strings"

	"github.com/sitelevels/sitelevels/internal/util"
)

// Classifier resolves hierarchy levels from a rule table.
type Classifier struct {
	rules []Rule
}

// New creates a Classifier using the default nine-level rule table.
func New() *Classifier {
	return NewWithRules(DefaultRules())
}

// NewWithRules creates a Classifier with a custom rule table.
func NewWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the hierarchy level for a URL. sourceDocument is the
// sitemap document the URL was discovered in ("" when unknown, e.g. for
// crawled URLs). A recognised document name wins over path patterns;
// otherwise the lowest-numbered matching rule wins, and with no match the
// level falls back to the number of path segments (minimum 1).
func (c *Classifier) Classify(rawURL, sourceDocument string) int {
	if level, ok := levelForSourceDocument(sourceDocument); ok {
		return level
	}

	segments := pathSegments(rawURL)

	for _, rule := range c.rules {
		for _, pattern := range rule.Patterns {
			if matchPattern(pattern, segments) {
				return rule.Level
			}
		}
	}

	if len(segments) < 1 {
		return 1
	}
	return len(segments)
}

// pathSegments returns the lower-cased, non-empty path segments of a URL.
func pathSegments(rawURL string) []string {
	_, p, err := util.ParseURL(rawURL)
	if err != nil {
		p = util.ExtractPathFromURL(rawURL)
	}

	p = strings.ToLower(strings.Trim(p, "/"))
	if p == "" {
		return nil
	}

	parts := strings.Split(p, "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// matchPattern tests segments against a single pattern. "blog/*" matches
// any path under blog/; a plain pattern matches the whole path exactly.
func matchPattern(pattern string, segments []string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return len(segments) >= 2 && segments[0] == prefix
	}
	return strings.Join(segments, "/") == pattern
}

// levelForSourceDocument resolves the provenance override for a sitemap
// document name. Accepts bare names ("blog-posts"), filenames
// ("blog-posts-sitemap.xml") and full URLs.
func levelForSourceDocument(doc string) (int, bool) {
	if doc == "" {
		return 0, false
	}

	name := strings.ToLower(path.Base(doc))
	name = strings.TrimSuffix(name, ".xml")
	name = strings.TrimSuffix(name, "-sitemap")

	level, ok := sourceDocumentLevels[name]
	return level, ok
}
