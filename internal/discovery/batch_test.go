package discovery

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	macaddr "github.com/stalkerprobe/stalker-probe/internal/mac"
)

func TestBatch_partitionsCandidates(t *testing.T) {
	portal := &probePortal{accept: map[string]bool{
		"00:1A:79:AA:AA:01": true,
		"00:1A:79:AA:AA:04": true,
	}}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	tester := &Tester{
		PortalURL: srv.URL,
		Delay:     time.Millisecond,
		Log:       quietLogger(),
	}
	res, err := tester.Test(context.Background(), []string{
		"00:1A:79:AA:AA:01",
		"00:1A:79:AA:AA:02",
		"garbage",
		"00:1A:79:AA:AA:04",
		"00:1A:79:AA:AA:05",
	})
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if len(res.Working) != 2 {
		t.Fatalf("Working = %d, want 2", len(res.Working))
	}
	if res.Working[0].MAC != "00:1A:79:AA:AA:01" || res.Working[1].MAC != "00:1A:79:AA:AA:04" {
		t.Errorf("Working order = %q, %q", res.Working[0].MAC, res.Working[1].MAC)
	}
	if len(res.Failed) != 3 {
		t.Errorf("Failed = %v, want 3 entries", res.Failed)
	}
	for _, w := range res.Working {
		if len(w.Profile) == 0 {
			t.Errorf("%s: empty profile", w.MAC)
		}
		if w.Subscription == nil || w.Subscription.Status != "unlimited" {
			t.Errorf("%s: subscription = %+v", w.MAC, w.Subscription)
		}
	}
}

// Every candidate gets a verdict; a hit must not end the run.
func TestBatch_doesNotShortCircuit(t *testing.T) {
	portal := &probePortal{accept: map[string]bool{"00:1A:79:AA:AA:01": true}}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	tester := &Tester{PortalURL: srv.URL, Delay: time.Millisecond, Log: quietLogger()}
	res, err := tester.Test(context.Background(), []string{
		"00:1A:79:AA:AA:01",
		"00:1A:79:AA:AA:02",
		"00:1A:79:AA:AA:03",
	})
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if got := len(res.Working) + len(res.Failed); got != 3 {
		t.Errorf("verdicts = %d, want 3", got)
	}
}

// A credential that handshakes but yields no profile is not working.
func TestBatch_tokenWithoutProfileFails(t *testing.T) {
	portal := &probePortal{tokenOnly: map[string]bool{"00:1A:79:AA:AA:01": true}}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	tester := &Tester{PortalURL: srv.URL, Delay: time.Millisecond, Log: quietLogger()}
	res, err := tester.Test(context.Background(), []string{"00:1A:79:AA:AA:01"})
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if len(res.Working) != 0 {
		t.Errorf("Working = %+v, want none", res.Working)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "00:1A:79:AA:AA:01" {
		t.Errorf("Failed = %v", res.Failed)
	}
}

func TestBatch_invalidMACSkipsNetwork(t *testing.T) {
	portal := &probePortal{}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	tester := &Tester{PortalURL: srv.URL, Delay: time.Millisecond, Log: quietLogger()}
	res, err := tester.Test(context.Background(), []string{"nope", "also-nope"})
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if len(res.Failed) != 2 {
		t.Errorf("Failed = %v", res.Failed)
	}
	if n := portal.handshakeCount(); n != 0 {
		t.Errorf("handshakes = %d, want 0", n)
	}
}

func TestBatch_rejectsOversizedBatch(t *testing.T) {
	tester := &Tester{PortalURL: "http://portal.example.com", Log: quietLogger()}
	macs := make([]string, MaxBatchSize+1)
	for i := range macs {
		macs[i] = "00:1A:79:00:00:01"
	}
	if _, err := tester.Test(context.Background(), macs); err == nil {
		t.Error("oversized batch accepted")
	}
}

func TestGenerateAndTest(t *testing.T) {
	portal := &probePortal{accept: map[string]bool{"00:1A:79:BB:BB:02": true}}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	tester := &Tester{
		PortalURL: srv.URL,
		Delay:     time.Millisecond,
		Generate:  sequenceGen("00:1A:79:BB:BB:01", "00:1A:79:BB:BB:02", "00:1A:79:BB:BB:03"),
		Log:       quietLogger(),
	}
	res, err := tester.GenerateAndTest(context.Background(), 3)
	if err != nil {
		t.Fatalf("GenerateAndTest: %v", err)
	}
	if len(res.Working) != 1 || res.Working[0].MAC != "00:1A:79:BB:BB:02" {
		t.Errorf("Working = %+v", res.Working)
	}
	if len(res.Failed) != 2 {
		t.Errorf("Failed = %v", res.Failed)
	}

	if _, err := tester.GenerateAndTest(context.Background(), 0); err == nil {
		t.Error("count 0 accepted")
	}
	if _, err := tester.GenerateAndTest(context.Background(), MaxBatchSize+1); err == nil {
		t.Error("count above limit accepted")
	}
}

// With no Generate override and no explicit prefix, a generated batch must
// rotate vendor prefixes so it covers several device families.
func TestGenerateAndTest_rotatesVendorPrefixes(t *testing.T) {
	portal := &probePortal{}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	tester := &Tester{PortalURL: srv.URL, Delay: time.Millisecond, Log: quietLogger()}
	count := len(macaddr.VendorPrefixes())
	res, err := tester.GenerateAndTest(context.Background(), count)
	if err != nil {
		t.Fatalf("GenerateAndTest: %v", err)
	}
	if len(res.Failed) != count {
		t.Fatalf("Failed = %d, want %d against a refuse-all portal", len(res.Failed), count)
	}
	prefixes := map[string]bool{}
	for _, m := range res.Failed {
		parts := strings.SplitN(m, ":", 4)
		prefixes[strings.Join(parts[:3], ":")] = true
	}
	if len(prefixes) != count {
		t.Errorf("distinct prefixes = %d (%v), want %d", len(prefixes), prefixes, count)
	}
}

// An explicit prefix pins every generated candidate to it.
func TestGenerateAndTest_honorsExplicitPrefix(t *testing.T) {
	portal := &probePortal{}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	tester := &Tester{PortalURL: srv.URL, Prefix: "D4:CF:F9", Delay: time.Millisecond, Log: quietLogger()}
	res, err := tester.GenerateAndTest(context.Background(), 3)
	if err != nil {
		t.Fatalf("GenerateAndTest: %v", err)
	}
	for _, m := range res.Failed {
		if !strings.HasPrefix(m, "D4:CF:F9:") {
			t.Errorf("candidate %q does not use the configured prefix", m)
		}
	}
}
