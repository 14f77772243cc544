// Package stalker speaks the Stalker Portal middleware protocol: the
// undocumented HTTP+JSON dialect MAG-family set-top boxes use against
// portal.php. It owns the handshake/token lifecycle, the action-specific
// query shapes, and the request-signing headers the portal gates access on.
//
// Authentication state is carried in the types: a Client can only Handshake;
// everything that needs a token lives on the Session a successful handshake
// returns. The portal answering "no" (wrong credential, no stream, no data)
// is a normal falsy return everywhere — errors are reserved for transport
// faults.
package stalker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	macaddr "github.com/stalkerprobe/stalker-probe/internal/mac"
	"github.com/stalkerprobe/stalker-probe/internal/safeurl"
)

const (
	portalEndpoint = "/portal.php"

	// The portal gates on these headers; omitting them causes silent
	// authentication failure (a token-less handshake), not an explicit error.
	stbUserAgent  = "Mozilla/5.0 (QtEmbedded; U; Linux; C) AppleWebKit/533.3 (KHTML, like Gecko) MAG200 stbapp ver: 2 rev: 250 Safari/533.3"
	stbXUserAgent = "Model: MAG250; Link: WiFi"

	// Fixed marker selecting the JSON envelope response format despite the name.
	jsRequestMarker = "1-xml"

	defaultEPGPeriodDays = 7
	maxListPages         = 100
)

// Client is an unauthenticated binding to one portal endpoint and one MAC
// credential. Construct a fresh Client per connection attempt; instances are
// not shared across concurrent probes.
type Client struct {
	portalURL string
	mac       string
	timezone  string
	transport Transport
	log       *slog.Logger
}

type Option func(*Client)

// WithTransport replaces the default resty transport (tests, proxies).
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithTimeout sets the per-request timeout on the default transport.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.transport = NewTransport(d) }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New validates inputs and returns a Client. The MAC is best-effort
// reformatted and must then be a valid 6-octet address; the portal URL must
// be absolute http(s). Both are rejected here, before any network call.
func New(portalURL, mac, timezone string, opts ...Option) (*Client, error) {
	base, err := safeurl.NormalizePortalURL(portalURL)
	if err != nil {
		return nil, err
	}
	formatted := macaddr.Format(mac)
	if !macaddr.Validate(formatted) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}
	if timezone == "" {
		timezone = "UTC"
	}
	c := &Client{
		portalURL: base,
		mac:       formatted,
		timezone:  timezone,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewTransport(DefaultTimeout)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

func (c *Client) MACAddress() string { return c.mac }
func (c *Client) PortalURL() string  { return c.portalURL }

// headers builds the protocol headers for one request. Shape follows token
// presence, not call order: pre-token the cookie carries only the MAC; once a
// token exists the cookie carries MAC, language, timezone, and token, and a
// bearer Authorization header is added.
func (c *Client) headers(token string) map[string]string {
	h := map[string]string{
		"User-Agent":   stbUserAgent,
		"X-User-Agent": stbXUserAgent,
	}
	if token == "" {
		h["Cookie"] = "mac=" + c.mac
		return h
	}
	h["Cookie"] = fmt.Sprintf("mac=%s; stb_lang=en; timezone=%s; token=%s", c.mac, c.timezone, token)
	h["Authorization"] = "Bearer " + token
	return h
}

func (c *Client) request(ctx context.Context, token, typ, action string, params url.Values) (envelope, error) {
	q := url.Values{}
	q.Set("type", typ)
	q.Set("action", action)
	q.Set("JsHttpRequest", jsRequestMarker)
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	body, err := c.transport.Get(ctx, c.portalURL+portalEndpoint, q, c.headers(token))
	if err != nil {
		return envelope{}, &TransportError{Action: action, Err: err}
	}
	env := decodeEnvelope(body)
	if env.kind == envMalformed {
		return envelope{}, &TransportError{Action: action, Err: errMalformedEnvelope}
	}
	return env, nil
}

// Handshake opens a session with a stb/handshake exchange carrying a
// freshness nonce. A nil *Session with nil error means the portal answered
// but issued no token — the expected shape of a rejected credential.
func (c *Client) Handshake(ctx context.Context) (*Session, error) {
	env, err := c.request(ctx, "", "stb", "handshake", url.Values{
		"prehash": {strconv.FormatInt(time.Now().UnixMilli(), 10)},
	})
	if err != nil {
		return nil, err
	}
	if env.kind != envOK {
		return nil, nil
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.js, &payload); err != nil || payload.Token == "" {
		c.log.Debug("handshake refused", "portal", c.portalURL, "mac", c.mac)
		return nil, nil
	}
	return &Session{c: c, token: payload.Token}, nil
}

// TestConnection reports whether the portal accepts this client's credential:
// handshake plus a profile presence check.
func (c *Client) TestConnection(ctx context.Context) (bool, error) {
	s, err := c.Handshake(ctx)
	if err != nil || s == nil {
		return false, err
	}
	profile, err := s.Profile(ctx)
	if err != nil {
		return false, err
	}
	return len(profile) > 0, nil
}

// Session is an authenticated portal session. It is only obtainable from a
// successful Handshake, so every operation on it can assume a token; the
// token is immutable for the session's lifetime.
type Session struct {
	c     *Client
	token string
}

func (s *Session) Token() string      { return s.token }
func (s *Session) MACAddress() string { return s.c.mac }

func (s *Session) request(ctx context.Context, typ, action string, params url.Values) (envelope, error) {
	return s.c.request(ctx, s.token, typ, action, params)
}

// Profile fetches the STB profile. nil means the portal returned no profile
// data for this session — treat as an unusable credential.
func (s *Session) Profile(ctx context.Context) (Profile, error) {
	env, err := s.request(ctx, "stb", "get_profile", nil)
	if err != nil {
		return nil, err
	}
	if env.kind != envOK {
		return nil, nil
	}
	var p Profile
	if err := json.Unmarshal(env.js, &p); err != nil {
		return nil, nil
	}
	return p, nil
}

// Genres lists live-TV genres. Always a slice, empty when the portal has none.
func (s *Session) Genres(ctx context.Context) ([]Genre, error) {
	env, err := s.request(ctx, "itv", "get_genres", nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Genre](env), nil
}

// Channels lists one page of live channels, optionally filtered by genre.
func (s *Session) Channels(ctx context.Context, genre string, page int) ([]Channel, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{"p": {strconv.Itoa(page)}}
	if genre != "" {
		params.Set("genre", genre)
	}
	env, err := s.request(ctx, "itv", "get_ordered_list", params)
	if err != nil {
		return nil, err
	}
	return decodeList[Channel](env), nil
}

// AllChannels fetches the full live channel list in one call.
func (s *Session) AllChannels(ctx context.Context) ([]Channel, error) {
	env, err := s.request(ctx, "itv", "get_all_channels", nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Channel](env), nil
}

// EPG returns the program guide for one channel, periodDays ahead
// (default 7 when zero or negative).
func (s *Session) EPG(ctx context.Context, channelID string, periodDays int) ([]Program, error) {
	if periodDays <= 0 {
		periodDays = defaultEPGPeriodDays
	}
	env, err := s.request(ctx, "itv", "get_epg_info", url.Values{
		"id":     {channelID},
		"period": {strconv.Itoa(periodDays)},
	})
	if err != nil {
		return nil, err
	}
	return decodeList[Program](env), nil
}

// ShortEPG returns the now/next guide for several channels at once, keyed by
// channel ID. Payload shape varies across portal versions, so entries stay raw.
func (s *Session) ShortEPG(ctx context.Context, channelIDs []string) (map[string]json.RawMessage, error) {
	if len(channelIDs) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	env, err := s.request(ctx, "itv", "get_short_epg", url.Values{
		"ch_id": {strings.Join(channelIDs, ",")},
	})
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	if env.kind != envOK {
		return out, nil
	}
	var wrapped struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(env.js, &wrapped); err == nil && wrapped.Data != nil {
		out = wrapped.Data
	}
	return out, nil
}

// Movies lists one page of VOD titles, optionally filtered by category.
func (s *Session) Movies(ctx context.Context, category string, page int) ([]Movie, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{"p": {strconv.Itoa(page)}}
	if category != "" {
		params.Set("category", category)
	}
	env, err := s.request(ctx, "vod", "get_ordered_list", params)
	if err != nil {
		return nil, err
	}
	return decodeList[Movie](env), nil
}

// AllMovies pages through the whole VOD catalog until an empty page.
func (s *Session) AllMovies(ctx context.Context) ([]Movie, error) {
	var all []Movie
	for page := 1; page <= maxListPages; page++ {
		movies, err := s.Movies(ctx, "", page)
		if err != nil {
			return all, err
		}
		if len(movies) == 0 {
			break
		}
		all = append(all, movies...)
	}
	if all == nil {
		all = []Movie{}
	}
	return all, nil
}

// SeriesList lists one page of series, optionally filtered by category.
func (s *Session) SeriesList(ctx context.Context, category string, page int) ([]SeriesItem, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{"p": {strconv.Itoa(page)}}
	if category != "" {
		params.Set("category", category)
	}
	env, err := s.request(ctx, "series", "get_ordered_list", params)
	if err != nil {
		return nil, err
	}
	return decodeList[SeriesItem](env), nil
}

// VODCategories lists movie categories.
func (s *Session) VODCategories(ctx context.Context) ([]Genre, error) {
	env, err := s.request(ctx, "vod", "get_categories", nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Genre](env), nil
}

// SeriesCategories lists series categories.
func (s *Session) SeriesCategories(ctx context.Context) ([]Genre, error) {
	env, err := s.request(ctx, "series", "get_categories", nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Genre](env), nil
}

// CreateLink resolves a live channel's play command into a stream URL.
// Empty string with nil error means the portal offered no stream.
func (s *Session) CreateLink(ctx context.Context, cmd string) (string, error) {
	return s.createLink(ctx, "itv", cmd, nil)
}

// CreateVODLink resolves a movie's play command.
func (s *Session) CreateVODLink(ctx context.Context, cmd string) (string, error) {
	return s.createLink(ctx, "vod", cmd, nil)
}

// CreateSeriesLink resolves one episode of a series; season/episode are sent
// when positive.
func (s *Session) CreateSeriesLink(ctx context.Context, cmd string, season, episode int) (string, error) {
	extra := url.Values{}
	if season > 0 {
		extra.Set("season", strconv.Itoa(season))
	}
	if episode > 0 {
		extra.Set("episode", strconv.Itoa(episode))
	}
	return s.createLink(ctx, "series", cmd, extra)
}

func (s *Session) createLink(ctx context.Context, typ, cmd string, extra url.Values) (string, error) {
	params := url.Values{
		"cmd":            {cmd},
		"series":         {""},
		"forced_storage": {"undefined"},
		"disable_ad":     {"0"},
		"download":       {"0"},
	}
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	env, err := s.request(ctx, typ, "create_link", params)
	if err != nil {
		return "", err
	}
	if env.kind != envOK {
		return "", nil
	}
	var payload struct {
		Cmd string `json:"cmd"`
	}
	if err := json.Unmarshal(env.js, &payload); err != nil {
		return "", nil
	}
	return ExtractStreamURL(payload.Cmd), nil
}

// SubscriptionInfo derives account status from the heterogeneous
// account/get_main_info payload. nil with nil error means the portal exposed
// no account data — normal, not a fault.
func (s *Session) SubscriptionInfo(ctx context.Context) (*SubscriptionInfo, error) {
	env, err := s.request(ctx, "account", "get_main_info", nil)
	if err != nil {
		return nil, err
	}
	if env.kind != envOK {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(env.js, &raw); err != nil {
		return nil, nil
	}
	return mapSubscription(raw, time.Now()), nil
}

// decodeList handles the two list shapes portals use: a bare js array
// (genres) or an object with a data array (channels, EPG, VOD pages).
// Always returns a slice; absent fields decode to empty, never nil.
func decodeList[T any](env envelope) []T {
	if env.kind != envOK {
		return []T{}
	}
	var direct []T
	if err := json.Unmarshal(env.js, &direct); err == nil {
		if direct == nil {
			return []T{}
		}
		return direct
	}
	var wrapped struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(env.js, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data
	}
	return []T{}
}
