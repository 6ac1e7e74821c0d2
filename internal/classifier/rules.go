package classifier

// Rule maps a hierarchy level to the path patterns that identify it.
// A plain pattern matches the whole path exactly; a pattern ending in
// "/*" matches any path whose first segment equals the prefix and which
// has at least one further segment.
type Rule struct {
	Level    int
	Patterns []string
}

// DefaultRules is the nine-level rule table. Kept as configuration so a
// deployment can swap it without touching the matcher; the level numbers
// and patterns are load-bearing for downstream grouping and must not be
// reordered casually.
func DefaultRules() []Rule {
	return []Rule{
		{
			Level: 1,
			Patterns: []string{
				"", "home", "index", "about", "about-us", "contact",
				"contact-us", "services", "products", "portfolio",
			},
		},
		{
			Level: 2,
			Patterns: []string{
				"team", "our-team", "careers", "pricing", "testimonials",
				"reviews", "gallery", "partners",
			},
		},
		{
			Level: 3,
			Patterns: []string{
				"blog", "news", "faq", "faqs", "resources", "events",
			},
		},
		{
			Level: 4,
			Patterns: []string{
				"blog/*", "news/*", "events/*", "articles/*", "post/*",
			},
		},
		{
			Level: 5,
			Patterns: []string{
				"products/*", "services/*", "shop/*", "store/*",
			},
		},
		{
			Level: 6,
			Patterns: []string{
				"booking", "book", "book-online", "appointments",
				"booking/*", "cart", "checkout",
			},
		},
		{
			Level: 7,
			Patterns: []string{
				"terms", "terms-of-service", "terms-and-conditions",
				"privacy", "privacy-policy", "legal", "cookie-policy",
				"cookies", "disclaimer", "accessibility",
			},
		},
		{
			Level: 8,
			Patterns: []string{
				"portfolio/*", "projects/*", "case-studies/*", "work/*",
			},
		},
		{
			Level: 9,
			Patterns: []string{
				"sitemap", "search", "404", "tags/*", "categories/*",
				"category/*", "archive/*", "author/*",
			},
		},
	}
}

// sourceDocumentLevels maps a sitemap document name (without the
// "-sitemap.xml" suffix) to the level its URLs belong to. Sitemap
// partitioning is a stronger signal than path shape, so a known document
// name overrides the pattern-derived level.
var sourceDocumentLevels = map[string]int{
	"pages":            1,
	"blog-categories":  3,
	"blog-posts":       4,
	"booking-services": 6,
	"portfolio":        8,
}
