package stalker

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-resty/resty/v2"

	"github.com/stalkerprobe/stalker-probe/internal/httpclient"
	"github.com/stalkerprobe/stalker-probe/internal/metrics"
)

// DefaultTimeout bounds one portal request. Exceeding it is a recoverable
// failure for that call, not a crash.
const DefaultTimeout = 10 * time.Second

// Transport issues one portal GET with headers and query parameters and
// returns the raw response body. Implementations own the overall request
// timeout; callers bound individual calls through ctx.
type Transport interface {
	Get(ctx context.Context, rawURL string, query url.Values, headers map[string]string) ([]byte, error)
}

// PortalTransport is the default Transport: a resty client on the shared
// tuned HTTP transport. It negotiates gzip and brotli and decodes both —
// some portals gzip large channel lists, and br costs nothing to accept.
type PortalTransport struct {
	rc *resty.Client
}

// NewTransport returns a PortalTransport with the given per-request timeout
// (DefaultTimeout when zero). No wire-level retries: retrying across
// credentials is the discovery layer's job, and a single logical operation
// must fail loudly instead of silently repeating.
func NewTransport(timeout time.Duration) *PortalTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rc := resty.New().
		SetTimeout(timeout).
		SetTransport(httpclient.Transport()).
		SetRetryCount(0)
	return &PortalTransport{rc: rc}
}

func (t *PortalTransport) Get(ctx context.Context, rawURL string, query url.Values, headers map[string]string) ([]byte, error) {
	action := query.Get("action")
	start := time.Now()
	resp, err := t.rc.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Accept-Encoding", "gzip, br").
		SetQueryParamsFromValues(query).
		Get(rawURL)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveRequest(action, "network_error", elapsed)
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		metrics.ObserveRequest(action, "http_error", elapsed)
		return nil, fmt.Errorf("portal returned %s", resp.Status())
	}
	body, err := decodeBody(resp.Header().Get("Content-Encoding"), resp.Body())
	if err != nil {
		metrics.ObserveRequest(action, "decode_error", elapsed)
		return nil, err
	}
	metrics.ObserveRequest(action, "ok", elapsed)
	return body, nil
}

func decodeBody(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
