// Command stalker-probe: find, verify, and use Stalker portal credentials.
//
//	discover  Search for a working MAC on one portal (bounded, throttled)
//	test      Verify an explicit list of candidate MACs, or a YAML portal inventory
//	channels  List genres and channels with a known-good credential
//	epg       Show the programme guide for one channel
//	link      Resolve a playable stream URL from a channel command
//	creds     List or delete stored credentials for a portal
//	genmac    Print freshly generated candidate MACs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stalkerprobe/stalker-probe/internal/config"
	"github.com/stalkerprobe/stalker-probe/internal/discovery"
	"github.com/stalkerprobe/stalker-probe/internal/health"
	macaddr "github.com/stalkerprobe/stalker-probe/internal/mac"
	"github.com/stalkerprobe/stalker-probe/internal/metrics"
	"github.com/stalkerprobe/stalker-probe/internal/stalker"
	"github.com/stalkerprobe/stalker-probe/internal/store"
)

func main() {
	_ = config.LoadEnvFile(".env")
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		fatal(log, "config", err)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Error("metrics server failed", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
	}

	switch os.Args[1] {
	case "discover":
		cmdDiscover(ctx, cfg, log, os.Args[2:])
	case "test":
		cmdTest(ctx, cfg, log, os.Args[2:])
	case "channels":
		cmdChannels(ctx, cfg, log, os.Args[2:])
	case "epg":
		cmdEPG(ctx, cfg, log, os.Args[2:])
	case "link":
		cmdLink(ctx, cfg, log, os.Args[2:])
	case "creds":
		cmdCreds(ctx, cfg, log, os.Args[2:])
	case "genmac":
		cmdGenMAC(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <discover|test|channels|epg|link|creds|genmac> [flags]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  discover  Search for a working MAC on one portal\n")
	fmt.Fprintf(os.Stderr, "  test      Verify candidate MACs (-macs a,b,c | -generate N | -portals file.yaml)\n")
	fmt.Fprintf(os.Stderr, "  channels  List genres and channels\n")
	fmt.Fprintf(os.Stderr, "  epg       Show the programme guide for one channel\n")
	fmt.Fprintf(os.Stderr, "  link      Resolve a playable stream URL\n")
	fmt.Fprintf(os.Stderr, "  creds     List or delete stored credentials (-delete MAC)\n")
	fmt.Fprintf(os.Stderr, "  genmac    Print generated candidate MACs\n")
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}

func openStore(log *slog.Logger, path string) *store.Store {
	if path == "" {
		return nil
	}
	s, err := store.Open(path)
	if err != nil {
		fatal(log, "open store", err)
	}
	return s
}

func saveCredential(ctx context.Context, log *slog.Logger, s *store.Store, portal, mac string, sub *stalker.SubscriptionInfo) {
	if s == nil {
		return
	}
	c := store.Credential{PortalURL: portal, MAC: mac}
	if sub != nil {
		c.Status = string(sub.Status)
		if !sub.ExpiresAt.IsZero() {
			c.ExpiresAt = sub.ExpiresAt.Format("2006-01-02")
		}
	}
	if err := s.Save(ctx, c); err != nil {
		log.Warn("save credential failed", "mac", mac, "err", err)
	}
}

func cmdDiscover(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	portal := fs.String("portal", cfg.PortalURL, "Portal base URL (default: STALKER_PROBE_PORTAL_URL)")
	timezone := fs.String("timezone", cfg.Timezone, "Timezone sent to the portal")
	attempts := fs.Int("attempts", cfg.DiscoverAttempts, "Max candidates to try")
	timeout := fs.Duration("timeout", cfg.DiscoverTimeout, "Per-attempt timeout")
	delay := fs.Duration("delay", cfg.DiscoverDelay, "Delay between attempts")
	prefix := fs.String("prefix", cfg.MACPrefix, "Vendor prefix for generated MACs (e.g. 00:1A:79)")
	storePath := fs.String("store", cfg.StorePath, "SQLite path to record found credentials ('' = off)")
	skipHealth := fs.Bool("skip-health", false, "Skip the portal reachability pre-check")
	_ = fs.Parse(args)

	if *portal == "" {
		fatal(log, "discover", errors.New("need -portal or STALKER_PROBE_PORTAL_URL"))
	}
	if !*skipHealth {
		if err := health.CheckPortal(ctx, strings.TrimSuffix(*portal, "/")); err != nil {
			fatal(log, "portal pre-check", err)
		}
	}

	s := openStore(log, *storePath)
	if s != nil {
		defer s.Close()
	}

	f := &discovery.Finder{
		PortalURL:      *portal,
		Timezone:       *timezone,
		MaxAttempts:    *attempts,
		AttemptTimeout: *timeout,
		Delay:          *delay,
		Prefix:         *prefix,
		NewClient:      discovery.DefaultClientFactory(stalker.WithTimeout(cfg.RequestTimeout)),
		Log:            log,
	}
	res, err := f.Find(ctx)
	if err != nil {
		var exhausted *discovery.ExhaustedError
		if errors.As(err, &exhausted) {
			fmt.Printf("No working MAC after %d attempts. Sample of tested candidates:\n", exhausted.Attempts)
			for _, m := range exhausted.Tested {
				fmt.Printf("  %s\n", m)
			}
			os.Exit(1)
		}
		fatal(log, "discover", err)
	}

	fmt.Printf("Found working MAC %s after %d attempts (run %s)\n", res.MAC, res.Attempts, res.RunID)

	// Re-verify once to pick up account details for the report and the store.
	sub := fetchSubscription(ctx, cfg, log, *portal, res.MAC, *timezone)
	if sub != nil {
		fmt.Printf("Subscription: %s", sub.Status)
		if !sub.ExpiresAt.IsZero() {
			fmt.Printf(", expires %s (%d days)", sub.ExpiresAt.Format("2006-01-02"), sub.DaysRemaining)
		}
		fmt.Println()
	}
	saveCredential(ctx, log, s, *portal, res.MAC, sub)
}

func fetchSubscription(ctx context.Context, cfg *config.Config, log *slog.Logger, portal, mac, timezone string) *stalker.SubscriptionInfo {
	client, err := stalker.New(portal, mac, timezone, stalker.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		return nil
	}
	sess, err := client.Handshake(ctx)
	if err != nil || sess == nil {
		return nil
	}
	sub, err := sess.SubscriptionInfo(ctx)
	if err != nil {
		log.Debug("subscription fetch failed", "mac", mac, "err", err)
		return nil
	}
	return sub
}

func cmdTest(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	portal := fs.String("portal", cfg.PortalURL, "Portal base URL")
	timezone := fs.String("timezone", cfg.Timezone, "Timezone sent to the portal")
	macsFlag := fs.String("macs", "", "Comma-separated candidate MACs")
	generate := fs.Int("generate", 0, "Generate N fresh candidates instead of -macs")
	prefix := fs.String("prefix", cfg.MACPrefix, "Vendor prefix for generated MACs")
	delay := fs.Duration("delay", cfg.DiscoverDelay, "Delay between candidates")
	portalsFile := fs.String("portals", cfg.PortalsFile, "YAML portal inventory; overrides -portal/-macs")
	storePath := fs.String("store", cfg.StorePath, "SQLite path to record working credentials ('' = off)")
	_ = fs.Parse(args)

	s := openStore(log, *storePath)
	if s != nil {
		defer s.Close()
	}

	runOne := func(portalURL, tz string, macs []string, genCount int) {
		tester := &discovery.Tester{
			PortalURL: portalURL,
			Timezone:  tz,
			Delay:     *delay,
			Prefix:    *prefix,
			NewClient: discovery.DefaultClientFactory(stalker.WithTimeout(cfg.RequestTimeout)),
			Log:       log,
		}
		var res *discovery.BatchResult
		var err error
		if len(macs) > 0 {
			res, err = tester.Test(ctx, macs)
		} else {
			res, err = tester.GenerateAndTest(ctx, genCount)
		}
		if err != nil {
			fatal(log, "test", err)
		}
		fmt.Printf("%s: %d working, %d failed\n", portalURL, len(res.Working), len(res.Failed))
		for _, w := range res.Working {
			line := "  OK  " + w.MAC
			if w.Subscription != nil {
				line += "  " + string(w.Subscription.Status)
				if !w.Subscription.ExpiresAt.IsZero() {
					line += " until " + w.Subscription.ExpiresAt.Format("2006-01-02")
				}
			}
			fmt.Println(line)
			saveCredential(ctx, log, s, portalURL, w.MAC, w.Subscription)
		}
		for _, m := range res.Failed {
			fmt.Printf("  --  %s\n", m)
		}
	}

	if *portalsFile != "" {
		entries, err := config.LoadPortals(*portalsFile)
		if err != nil {
			fatal(log, "load portals", err)
		}
		for _, e := range entries {
			tz := e.Timezone
			if tz == "" {
				tz = *timezone
			}
			if len(e.MACs) > 0 {
				runOne(e.URL, tz, e.MACs, 0)
			}
			if e.Generate > 0 {
				runOne(e.URL, tz, nil, e.Generate)
			}
		}
		return
	}

	if *portal == "" {
		fatal(log, "test", errors.New("need -portal or -portals"))
	}
	if *macsFlag == "" && *generate <= 0 {
		fatal(log, "test", errors.New("need -macs or -generate"))
	}
	var macs []string
	for _, m := range strings.Split(*macsFlag, ",") {
		if m = strings.TrimSpace(m); m != "" {
			macs = append(macs, m)
		}
	}
	runOne(*portal, *timezone, macs, *generate)
}

// openSession dials the portal with one credential and fails loudly when the
// portal turns it down, since every content command needs a session.
func openSession(ctx context.Context, cfg *config.Config, log *slog.Logger, portal, mac, timezone string) *stalker.Session {
	if portal == "" || mac == "" {
		fatal(log, "session", errors.New("need -portal and -mac"))
	}
	client, err := stalker.New(portal, mac, timezone, stalker.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		fatal(log, "session", err)
	}
	sess, err := client.Handshake(ctx)
	if err != nil {
		fatal(log, "handshake", err)
	}
	if sess == nil {
		fatal(log, "handshake", errors.New("portal rejected the credential"))
	}
	return sess
}

func cmdChannels(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) {
	fs := flag.NewFlagSet("channels", flag.ExitOnError)
	portal := fs.String("portal", cfg.PortalURL, "Portal base URL")
	mac := fs.String("mac", cfg.MAC, "Credential MAC")
	timezone := fs.String("timezone", cfg.Timezone, "Timezone sent to the portal")
	genre := fs.String("genre", "*", "Genre ID filter ('*' = all)")
	all := fs.Bool("all", false, "Use the bulk channel dump instead of paging")
	_ = fs.Parse(args)

	sess := openSession(ctx, cfg, log, *portal, *mac, *timezone)

	genres, err := sess.Genres(ctx)
	if err != nil {
		fatal(log, "genres", err)
	}
	names := make(map[string]string, len(genres))
	for _, g := range genres {
		names[string(g.ID)] = g.Title
	}

	var channels []stalker.Channel
	if *all {
		channels, err = sess.AllChannels(ctx)
	} else {
		channels, err = sess.Channels(ctx, *genre, 0)
	}
	if err != nil {
		fatal(log, "channels", err)
	}

	fmt.Printf("%d channels\n", len(channels))
	for _, ch := range channels {
		genreName := names[string(ch.GenreID)]
		if genreName == "" {
			genreName = "-"
		}
		fmt.Printf("%6d  %-40s  %s\n", int64(ch.Number), ch.Name, genreName)
	}
}

func cmdEPG(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) {
	fs := flag.NewFlagSet("epg", flag.ExitOnError)
	portal := fs.String("portal", cfg.PortalURL, "Portal base URL")
	mac := fs.String("mac", cfg.MAC, "Credential MAC")
	timezone := fs.String("timezone", cfg.Timezone, "Timezone sent to the portal")
	channel := fs.String("channel", "", "Channel ID")
	days := fs.Int("days", 7, "Guide period in days")
	_ = fs.Parse(args)

	if *channel == "" {
		fatal(log, "epg", errors.New("need -channel"))
	}
	sess := openSession(ctx, cfg, log, *portal, *mac, *timezone)

	programs, err := sess.EPG(ctx, *channel, *days)
	if err != nil {
		fatal(log, "epg", err)
	}
	if len(programs) == 0 {
		fmt.Println("No guide data")
		return
	}
	for _, p := range programs {
		start := time.Unix(int64(p.Start), 0).Format("2006-01-02 15:04")
		fmt.Printf("%s  %s\n", start, p.Name)
	}
}

func cmdLink(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) {
	fs := flag.NewFlagSet("link", flag.ExitOnError)
	portal := fs.String("portal", cfg.PortalURL, "Portal base URL")
	mac := fs.String("mac", cfg.MAC, "Credential MAC")
	timezone := fs.String("timezone", cfg.Timezone, "Timezone sent to the portal")
	cmd := fs.String("cmd", "", "Channel or VOD command string from a listing")
	kind := fs.String("type", "itv", "Link type: itv | vod | series")
	season := fs.Int("season", 0, "Season number (series)")
	episode := fs.Int("episode", 0, "Episode number (series)")
	_ = fs.Parse(args)

	if *cmd == "" {
		fatal(log, "link", errors.New("need -cmd"))
	}
	sess := openSession(ctx, cfg, log, *portal, *mac, *timezone)

	var streamURL string
	var err error
	switch *kind {
	case "itv":
		streamURL, err = sess.CreateLink(ctx, *cmd)
	case "vod":
		streamURL, err = sess.CreateVODLink(ctx, *cmd)
	case "series":
		streamURL, err = sess.CreateSeriesLink(ctx, *cmd, *season, *episode)
	default:
		fatal(log, "link", fmt.Errorf("unknown type %q", *kind))
	}
	if err != nil {
		fatal(log, "link", err)
	}
	if streamURL == "" {
		fmt.Println("Portal returned no stream URL")
		os.Exit(1)
	}
	fmt.Println(streamURL)
}

func cmdCreds(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) {
	fs := flag.NewFlagSet("creds", flag.ExitOnError)
	portal := fs.String("portal", cfg.PortalURL, "Portal base URL")
	storePath := fs.String("store", cfg.StorePath, "SQLite credential store path")
	remove := fs.String("delete", "", "Delete this MAC from the store instead of listing")
	_ = fs.Parse(args)

	if *storePath == "" {
		fatal(log, "creds", errors.New("need -store or STALKER_PROBE_STORE_PATH"))
	}
	if *portal == "" {
		fatal(log, "creds", errors.New("need -portal or STALKER_PROBE_PORTAL_URL"))
	}
	s := openStore(log, *storePath)
	defer s.Close()

	if *remove != "" {
		if err := s.Delete(ctx, *portal, *remove); err != nil {
			fatal(log, "creds", err)
		}
		fmt.Printf("Deleted %s\n", *remove)
		return
	}

	creds, err := s.ByPortal(ctx, *portal)
	if err != nil {
		fatal(log, "creds", err)
	}
	if len(creds) == 0 {
		fmt.Println("No stored credentials")
		return
	}
	for _, c := range creds {
		line := fmt.Sprintf("%s  found %s", c.MAC, c.FoundAt.Format("2006-01-02 15:04"))
		if c.Status != "" {
			line += "  " + c.Status
		}
		if c.ExpiresAt != "" {
			line += " until " + c.ExpiresAt
		}
		fmt.Println(line)
	}
}

func cmdGenMAC(args []string) {
	fs := flag.NewFlagSet("genmac", flag.ExitOnError)
	count := fs.Int("count", 1, "How many MACs to generate")
	prefix := fs.String("prefix", "", "Vendor prefix (default: rotate known STB prefixes)")
	_ = fs.Parse(args)

	if *prefix != "" {
		for i := 0; i < *count; i++ {
			fmt.Println(macaddr.Generate(*prefix))
		}
		return
	}
	for _, m := range macaddr.GenerateMultiple(*count, "") {
		fmt.Println(m)
	}
}
