// Package mac generates, validates, and normalizes the MAC-address
// credentials Stalker portals authenticate set-top boxes by. These are device
// credentials tied to a subscription, not network interface identifiers:
// portals whitelist specific addresses, so generation biases toward vendor
// prefixes of common STB families to raise the odds of a hit.
package mac

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

// DefaultPrefix is the Infomir/MAG OUI, by far the most widely provisioned.
const DefaultPrefix = "00:1A:79"

// vendorPrefixes are OUIs of STB families commonly whitelisted by portals.
// GenerateMultiple round-robins across them so a batch covers several device
// families instead of repeating one prefix.
var vendorPrefixes = []string{
	"00:1A:79", // Infomir (MAG250/254/322)
	"D4:CF:F9", // Shenzhen / MAG clones
	"33:44:CF", // common clone range
	"10:27:BE", // TVIP
	"A0:BB:3E", // Formuler
}

var (
	macPattern    = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)
	nonHexPattern = regexp.MustCompile(`[^0-9A-Fa-f]`)
)

// Generate returns a random MAC with the given vendor prefix; the remaining
// octets are uniformly random. prefix may name any leading run of octets
// ("00:1A:79" or "00:1A:79:AB"); empty means DefaultPrefix.
func Generate(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	octets := strings.Split(strings.Trim(strings.ToUpper(prefix), ":"), ":")
	for len(octets) < 6 {
		octets = append(octets, fmt.Sprintf("%02X", rand.IntN(256)))
	}
	return strings.Join(octets[:6], ":")
}

// GenerateMultiple returns count random MACs. With an explicit prefix every
// address uses it; otherwise prefixes rotate round-robin through
// vendorPrefixes before any repeats.
func GenerateMultiple(count int, prefix string) []string {
	if count <= 0 {
		return nil
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		p := prefix
		if p == "" {
			p = vendorPrefixes[i%len(vendorPrefixes)]
		}
		out = append(out, Generate(p))
	}
	return out
}

// Validate reports whether s is a 6-octet colon- or dash-delimited hex MAC.
func Validate(s string) bool {
	return macPattern.MatchString(s)
}

// Format best-effort normalizes s to uppercase colon-separated form: all
// non-hex characters are stripped, and if exactly 12 hex digits remain they
// are re-joined as octets. Anything else is returned unchanged; callers
// wanting strict rejection must check Validate separately.
func Format(s string) string {
	cleaned := nonHexPattern.ReplaceAllString(s, "")
	if len(cleaned) != 12 {
		return s
	}
	cleaned = strings.ToUpper(cleaned)
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, cleaned[i:i+2])
	}
	return strings.Join(parts, ":")
}

// VendorPrefixes returns the built-in prefix rotation, for callers that want
// to report which device families a generated batch covers.
func VendorPrefixes() []string {
	out := make([]string, len(vendorPrefixes))
	copy(out, vendorPrefixes)
	return out
}
