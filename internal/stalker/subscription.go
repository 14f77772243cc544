package stalker

import (
	"strconv"
	"strings"
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionUnlimited SubscriptionStatus = "unlimited"
	SubscriptionUnknown   SubscriptionStatus = "unknown"
)

// SubscriptionInfo is the best-effort normalization of account info.
// ExpiresAt is zero and DaysRemaining meaningless unless Status is active or
// expired.
type SubscriptionInfo struct {
	Status        SubscriptionStatus
	ExpiresAt     time.Time
	DaysRemaining int
}

// expiryFields are the field-name variants portals use for the subscription
// end date, probed in priority order. A newly observed variant is a row
// here, not new logic.
var expiryFields = []struct {
	name  string
	parse func(string) (time.Time, bool)
}{
	{"expire_date", parseExpiry},
	{"expiry_date", parseExpiry},
	{"account_expire", parseExpiry},
	{"end_date", parseExpiry},
	{"expire_billing_date", parseExpiry},
}

var expiryLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"02.01.2006",
}

func parseExpiry(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// Unix seconds; lower bound keeps small counters from parsing as 1970.
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 100_000_000 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}

// mapSubscription derives subscription info from a raw account payload.
// Absent fields are normal: the result is then SubscriptionUnknown, never an
// error. The literal "unlimited" is a distinct status, not a parse failure.
func mapSubscription(account map[string]any, now time.Time) *SubscriptionInfo {
	for _, f := range expiryFields {
		v, ok := account[f.name]
		if !ok {
			continue
		}
		s := fieldString(v)
		if s == "" {
			continue
		}
		if strings.EqualFold(s, "unlimited") {
			return &SubscriptionInfo{Status: SubscriptionUnlimited}
		}
		t, parsed := f.parse(s)
		if !parsed {
			continue
		}
		days := calendarDays(now, t)
		status := SubscriptionActive
		if days < 0 {
			status = SubscriptionExpired
		}
		return &SubscriptionInfo{Status: status, ExpiresAt: t, DaysRemaining: days}
	}
	return &SubscriptionInfo{Status: SubscriptionUnknown}
}

func fieldString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatInt(int64(x), 10)
	}
	return ""
}

// calendarDays is the whole-day difference between the dates of from and to,
// ignoring time of day.
func calendarDays(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f) / (24 * time.Hour))
}
