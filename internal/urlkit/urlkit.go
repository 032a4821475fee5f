// Package urlkit provides small URL helpers shared by the dispatcher,
// fetcher and store.
package urlkit

import (
	"net/url"
	"path"
	"strings"
)

// ExtractHost returns the lowercase hostname of a URL, or "" when the URL
// cannot be parsed.
func ExtractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Extension returns the lowercase file extension of the URL path without the
// leading dot, or "" when the path has none.
func Extension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsWebScheme reports whether the URL uses http or https.
func IsWebScheme(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
