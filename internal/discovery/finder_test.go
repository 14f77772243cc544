package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// probePortal is an httptest portal that accepts a configured set of MACs
// and refuses the rest. MACs in the hang set stall until the client gives
// up; MACs in tokenOnly handshake successfully but never yield a profile.
type probePortal struct {
	mu         sync.Mutex
	accept     map[string]bool
	hang       map[string]bool
	tokenOnly  map[string]bool
	handshakes int
}

func macFromCookie(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("Cookie"), ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "mac="); ok {
			return v
		}
	}
	return ""
}

func (p *probePortal) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mac := macFromCookie(r)
		p.mu.Lock()
		hang := p.hang[mac]
		accepted := p.accept[mac]
		tokenOnly := p.tokenOnly[mac]
		if r.URL.Query().Get("action") == "handshake" {
			p.handshakes++
		}
		p.mu.Unlock()

		if hang {
			<-r.Context().Done()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("action") {
		case "handshake":
			if accepted || tokenOnly {
				w.Write([]byte(`{"js":{"token":"tok-` + mac + `"}}`))
			} else {
				w.Write([]byte(`{"js":null}`))
			}
		case "get_profile":
			if accepted {
				w.Write([]byte(`{"js":{"id":7,"name":"stb"}}`))
			} else {
				w.Write([]byte(`{"js":{}}`))
			}
		case "get_main_info":
			w.Write([]byte(`{"js":{"account_expire":"unlimited"}}`))
		default:
			w.Write([]byte(`{"js":null}`))
		}
	}
}

func (p *probePortal) handshakeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handshakes
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// sequenceGen hands out the given MACs in order, repeating the last one.
func sequenceGen(macs ...string) func(string) string {
	i := 0
	return func(string) string {
		m := macs[min(i, len(macs)-1)]
		i++
		return m
	}
}

func TestFind_succeedsOnLaterCandidate(t *testing.T) {
	portal := &probePortal{accept: map[string]bool{"00:1A:79:00:00:03": true}}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	f := &Finder{
		PortalURL:   srv.URL,
		MaxAttempts: 10,
		Delay:       time.Millisecond,
		Generate:    sequenceGen("00:1A:79:00:00:01", "00:1A:79:00:00:02", "00:1A:79:00:00:03"),
		Log:         quietLogger(),
	}
	res, err := f.Find(context.Background())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.MAC != "00:1A:79:00:00:03" {
		t.Errorf("MAC = %q", res.MAC)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if res.RunID == "" {
		t.Error("empty RunID")
	}
	if n := portal.handshakeCount(); n != 3 {
		t.Errorf("handshakes = %d, want 3", n)
	}
}

func TestFind_exhaustsAttemptCeiling(t *testing.T) {
	portal := &probePortal{}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	f := &Finder{
		PortalURL:   srv.URL,
		MaxAttempts: 5,
		Delay:       time.Millisecond,
		Log:         quietLogger(),
	}
	_, err := f.Find(context.Background())
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", exhausted.Attempts)
	}
	if len(exhausted.Tested) != 5 {
		t.Errorf("Tested sample = %d MACs, want 5", len(exhausted.Tested))
	}
	if n := portal.handshakeCount(); n != 5 {
		t.Errorf("handshakes = %d, want 5", n)
	}
}

func TestFind_testedSampleIsBounded(t *testing.T) {
	portal := &probePortal{}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	f := &Finder{
		PortalURL:   srv.URL,
		MaxAttempts: 15,
		Delay:       time.Millisecond,
		Log:         quietLogger(),
	}
	_, err := f.Find(context.Background())
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if len(exhausted.Tested) != testedSampleSize {
		t.Errorf("Tested sample = %d MACs, want %d", len(exhausted.Tested), testedSampleSize)
	}
}

// A handshake that yields a token but no profile is an unusable credential;
// the search must treat it as a miss and keep going.
func TestFind_tokenWithoutProfileIsAMiss(t *testing.T) {
	portal := &probePortal{
		tokenOnly: map[string]bool{"00:1A:79:00:00:01": true},
		accept:    map[string]bool{"00:1A:79:00:00:02": true},
	}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	f := &Finder{
		PortalURL:   srv.URL,
		MaxAttempts: 5,
		Delay:       time.Millisecond,
		Generate:    sequenceGen("00:1A:79:00:00:01", "00:1A:79:00:00:02"),
		Log:         quietLogger(),
	}
	res, err := f.Find(context.Background())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.MAC != "00:1A:79:00:00:02" || res.Attempts != 2 {
		t.Errorf("got MAC %q after %d attempts", res.MAC, res.Attempts)
	}
}

func TestFind_timeoutMovesToNextCandidate(t *testing.T) {
	portal := &probePortal{
		accept: map[string]bool{"00:1A:79:00:00:02": true},
		hang:   map[string]bool{"00:1A:79:00:00:01": true},
	}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	f := &Finder{
		PortalURL:      srv.URL,
		MaxAttempts:    5,
		AttemptTimeout: 100 * time.Millisecond,
		Delay:          time.Millisecond,
		Generate:       sequenceGen("00:1A:79:00:00:01", "00:1A:79:00:00:02"),
		Log:            quietLogger(),
	}
	res, err := f.Find(context.Background())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.MAC != "00:1A:79:00:00:02" || res.Attempts != 2 {
		t.Errorf("got MAC %q after %d attempts", res.MAC, res.Attempts)
	}
}

func TestFind_deadPortalStopsEarly(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := &Finder{
		PortalURL:   url,
		MaxAttempts: 50,
		Delay:       time.Millisecond,
		Log:         quietLogger(),
	}
	_, err := f.Find(context.Background())
	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("err = %v, want UnreachableError", err)
	}
	if unreachable.Attempts != defaultBreakerThreshold {
		t.Errorf("Attempts = %d, want %d network attempts", unreachable.Attempts, defaultBreakerThreshold)
	}
}

// A portal that answers slower than the per-attempt deadline is slow, not
// dead: the search must run to exhaustion rather than aborting as
// unreachable.
func TestFind_slowPortalRunsToExhaustion(t *testing.T) {
	portal := &probePortal{hang: map[string]bool{"00:1A:79:00:00:01": true}}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	f := &Finder{
		PortalURL:      srv.URL,
		MaxAttempts:    defaultBreakerThreshold + 2,
		AttemptTimeout: 30 * time.Millisecond,
		Delay:          time.Millisecond,
		Generate:       sequenceGen("00:1A:79:00:00:01"),
		Log:            quietLogger(),
	}
	_, err := f.Find(context.Background())
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.Attempts != defaultBreakerThreshold+2 {
		t.Errorf("Attempts = %d, want %d", exhausted.Attempts, defaultBreakerThreshold+2)
	}
}

func TestFind_honorsCancellation(t *testing.T) {
	portal := &probePortal{}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &Finder{PortalURL: srv.URL, Log: quietLogger()}
	if _, err := f.Find(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
