package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	macaddr "github.com/stalkerprobe/stalker-probe/internal/mac"
	"github.com/stalkerprobe/stalker-probe/internal/metrics"
	"github.com/stalkerprobe/stalker-probe/internal/stalker"
)

// MaxBatchSize caps one batch run. Larger audits should be split by the
// caller so a single run stays polite to the portal.
const MaxBatchSize = 20

// Tester audits an explicit list of candidate MACs against one portal.
// Unlike Finder it never generates candidates beyond what it is given and
// never stops early: every candidate gets a verdict.
type Tester struct {
	PortalURL      string
	Timezone       string
	AttemptTimeout time.Duration
	Delay          time.Duration
	Prefix         string

	NewClient ClientFactory
	Generate  func(prefix string) string
	Log       *slog.Logger
}

// WorkingMAC is one accepted credential with the account details fetched
// during verification.
type WorkingMAC struct {
	MAC          string
	Profile      stalker.Profile
	Subscription *stalker.SubscriptionInfo
}

// BatchResult partitions the tested candidates.
type BatchResult struct {
	RunID   string
	Working []WorkingMAC
	Failed  []string
}

func (t *Tester) defaults() {
	if t.AttemptTimeout <= 0 {
		t.AttemptTimeout = DefaultAttemptTimeout
	}
	if t.Delay <= 0 {
		t.Delay = DefaultDelay
	}
	if t.NewClient == nil {
		t.NewClient = DefaultClientFactory()
	}
	if t.Log == nil {
		t.Log = slog.Default()
	}
}

// Test evaluates every candidate in order and partitions them into working
// and failed. Syntactically invalid MACs fail without touching the network.
// Any attempt error counts as a failed candidate; Test itself errors only on
// an oversized batch or caller cancellation.
func (t *Tester) Test(ctx context.Context, macs []string) (*BatchResult, error) {
	t.defaults()
	if len(macs) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d candidates exceeds limit of %d", len(macs), MaxBatchSize)
	}

	res := &BatchResult{RunID: uuid.NewString()}
	log := t.Log.With("run_id", res.RunID, "portal", t.PortalURL)
	log.Info("starting batch test", "candidates", len(macs))

	for _, mac := range macs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !macaddr.Validate(mac) {
			log.Debug("invalid candidate", "mac", mac)
			res.Failed = append(res.Failed, mac)
			metrics.BatchCandidates.WithLabelValues("failed").Inc()
			continue
		}

		working, err := t.verify(ctx, mac)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if working != nil {
			log.Info("candidate accepted", "mac", mac)
			res.Working = append(res.Working, *working)
			metrics.BatchCandidates.WithLabelValues("working").Inc()
		} else {
			log.Debug("candidate rejected", "mac", mac, "err", err)
			res.Failed = append(res.Failed, mac)
			metrics.BatchCandidates.WithLabelValues("failed").Inc()
		}

		if t.Delay > 0 {
			select {
			case <-time.After(t.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	log.Info("batch test done", "working", len(res.Working), "failed", len(res.Failed))
	return res, nil
}

// GenerateAndTest builds count fresh candidates and runs them through Test.
// Without a Generate override the candidates rotate through the known vendor
// prefixes, so one batch covers several device families instead of
// repeating a single prefix.
func (t *Tester) GenerateAndTest(ctx context.Context, count int) (*BatchResult, error) {
	if count <= 0 || count > MaxBatchSize {
		return nil, fmt.Errorf("candidate count %d out of range 1..%d", count, MaxBatchSize)
	}
	var macs []string
	if t.Generate != nil {
		macs = make([]string, count)
		for i := range macs {
			macs[i] = t.Generate(t.Prefix)
		}
	} else {
		macs = macaddr.GenerateMultiple(count, t.Prefix)
	}
	return t.Test(ctx, macs)
}

// verify handshakes one candidate and, on success, collects its profile and
// subscription details. A nil WorkingMAC with nil error is a clean refusal.
func (t *Tester) verify(ctx context.Context, mac string) (*WorkingMAC, error) {
	actx, cancel := context.WithTimeout(ctx, t.AttemptTimeout)
	defer cancel()

	client, err := t.NewClient(t.PortalURL, mac, t.Timezone)
	if err != nil {
		return nil, err
	}
	sess, err := client.Handshake(actx)
	if err != nil || sess == nil {
		return nil, err
	}
	profile, err := sess.Profile(actx)
	if err != nil {
		return nil, err
	}
	if len(profile) == 0 {
		return nil, nil
	}

	w := &WorkingMAC{MAC: mac, Profile: profile}
	// Subscription details are best-effort; the credential already proved
	// itself with a profile.
	if info, err := sess.SubscriptionInfo(actx); err == nil {
		w.Subscription = info
	}
	return w, nil
}
