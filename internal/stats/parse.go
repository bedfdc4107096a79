package stats

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// maxMagnitude bounds parsed amounts and areas. Larger values are treated
// as malformed.
const maxMagnitude = 1e12

var spaceStripper = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "\t", "")

// ParseAmount parses a price amount. Empty, non-numeric, non-finite, zero,
// negative and implausibly large amounts are invalid.
func ParseAmount(s string) (float64, bool) {
	s = spaceStripper.Replace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 || v > maxMagnitude {
		return 0, false
	}
	return v, true
}

// leadingNumber captures the numeric head of an area string such as
// "55 m²", "55,5 mp" or "55".
var leadingNumber = regexp.MustCompile(`^\s*([0-9]+(?:[.,][0-9]+)?)`)

// ParseArea strips the unit suffix from an area string and parses the
// leading number. Missing, non-positive or implausibly large areas are
// invalid.
func ParseArea(s string) (float64, bool) {
	m := leadingNumber.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil || v <= 0 || v > maxMagnitude {
		return 0, false
	}
	return v, true
}

// MatchRoomPrefix reports whether room text starts with prefix as a whole
// token: "2" matches "2" and "2 camere" but not "20 camere" or "12".
// Comparison is trimmed and case insensitive. An empty prefix matches all.
func MatchRoomPrefix(room, prefix string) bool {
	p := strings.ToLower(strings.TrimSpace(prefix))
	if p == "" {
		return true
	}
	r := strings.ToLower(strings.TrimSpace(room))
	return r == p || strings.HasPrefix(r, p+" ")
}
