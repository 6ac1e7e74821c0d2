package util

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrMalformedURL is returned when a URL cannot be reduced to a host and path.
var ErrMalformedURL = errors.New("malformed URL")

// validURLPattern accepts an optional scheme, a dotted host and an optional
// path limited to the characters we expect in page URLs.
var validURLPattern = regexp.MustCompile(`^(?:[a-zA-Z][a-zA-Z0-9+.-]*://)?[\w-]+(?:\.[\w-]+)+(?:/[\w\-./?%&=,]*)?$`)

// IsValidURL reports whether raw looks like a fetchable page URL.
func IsValidURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	return validURLPattern.MatchString(raw)
}

// NormaliseURL ensures a URL carries a scheme and strips a leading www.
// from the host. The result is stable: normalising twice yields the same
// string. Returns "" for input that cannot be parsed as a URL.
func NormaliseURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	// Add https:// prefix if no scheme is present
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		log.Debug().Str("url", rawURL).Err(err).Msg("Invalid URL format")
		return ""
	}

	// Strip www. prefix from the host
	if strings.HasPrefix(parsed.Host, "www.") {
		parsed.Host = strings.TrimPrefix(parsed.Host, "www.")
		rawURL = parsed.String()
	}

	return rawURL
}

// NormaliseDomain removes scheme, www. prefix and trailing slash from a domain.
func NormaliseDomain(domain string) string {
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "www.")
	domain = strings.TrimSuffix(domain, "/")
	return domain
}

// ParseURL splits a URL into its host and path components after
// normalisation. The path defaults to "/" when absent.
func ParseURL(rawURL string) (host, path string, err error) {
	normalised := NormaliseURL(rawURL)
	if normalised == "" {
		return "", "", ErrMalformedURL
	}

	parsed, err := url.Parse(normalised)
	if err != nil || parsed.Host == "" {
		return "", "", ErrMalformedURL
	}

	path = parsed.Path
	if path == "" {
		path = "/"
	}

	return parsed.Host, path, nil
}

// ExtractPathFromURL extracts just the path component from a full URL.
func ExtractPathFromURL(fullURL string) string {
	path := fullURL
	path = strings.TrimPrefix(path, "http://")
	path = strings.TrimPrefix(path, "https://")
	path = strings.TrimPrefix(path, "www.")

	// Find the first slash after the domain name
	domainEnd := strings.Index(path, "/")
	if domainEnd != -1 {
		path = path[domainEnd:]
	} else {
		path = "/"
	}

	return path
}

// ConstructURL builds a full URL from domain and path components.
func ConstructURL(domain, path string) string {
	normalisedDomain := NormaliseDomain(domain)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "https://" + normalisedDomain + path
}
