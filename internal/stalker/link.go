package stalker

import (
	"regexp"
	"strings"
)

// Portals return play commands that are sometimes a raw URL and sometimes a
// shell-style invocation ("ffmpeg http://..."). The observed shapes drive
// this normalization chain; new cmd variants get a test case here rather
// than a broader regex.
var streamURLPattern = regexp.MustCompile(`https?://\S+`)

// ExtractStreamURL normalizes a portal play command into a playable URL:
// trim, strip a case-insensitive "ffmpeg " prefix, then take the first
// http(s) token. Returns "" when the command contains nothing URL-shaped.
// Passing a raw cmd to a player without this step is incorrect.
func ExtractStreamURL(cmd string) string {
	s := strings.TrimSpace(cmd)
	if len(s) > 7 && strings.EqualFold(s[:7], "ffmpeg ") {
		s = strings.TrimSpace(s[7:])
	}
	return streamURLPattern.FindString(s)
}
