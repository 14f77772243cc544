package safeurl

import (
	"fmt"
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS returns true if u is a valid absolute URL with scheme http or
// https. Used to reject file://, ftp://, and other schemes before a portal
// URL is ever dialed.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	if parsed.Host == "" {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

// NormalizePortalURL validates u as an http(s) portal base URL and returns it
// without a trailing slash, ready for path joining.
func NormalizePortalURL(u string) (string, error) {
	u = strings.TrimSpace(u)
	if !IsHTTPOrHTTPS(u) {
		return "", fmt.Errorf("portal URL %q must be absolute http or https", u)
	}
	return strings.TrimSuffix(u, "/"), nil
}
