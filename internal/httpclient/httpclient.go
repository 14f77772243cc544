package httpclient

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 10 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 8
)

var sharedTransport *http.Transport

func init() {
	sharedTransport = &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		// The portal transport negotiates gzip and br itself and decodes
		// both, so stdlib auto-gzip must stay out of the way.
		DisableCompression: true,
	}
}

// Transport returns the shared tuned HTTP transport for portal clients.
// Credential probing constructs a fresh client per attempt; sharing the
// transport keeps connection reuse across those short-lived clients.
func Transport() *http.Transport {
	return sharedTransport
}

// WithTimeout returns an *http.Client on the shared transport with the given
// overall request timeout.
func WithTimeout(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}
