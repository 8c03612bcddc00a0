package pulse

import (
	"strconv"
	"strings"
)

// Feedback is the strength report sent by the device:
// strength-<strengthA>+<strengthB>+<limitA>+<limitB>.
type Feedback struct {
	StrengthA int
	StrengthB int
	LimitA    int
	LimitB    int
}

// ParseFeedback parses a device strength report. The second result is false
// for any other text.
func ParseFeedback(text string) (Feedback, bool) {
	rest, ok := strings.CutPrefix(text, "strength-")
	if !ok {
		return Feedback{}, false
	}
	parts := strings.Split(rest, "+")
	if len(parts) != 4 {
		return Feedback{}, false
	}
	var v [4]int
	for i, p := range parts {
		n, ok := parseDigits(p)
		if !ok {
			return Feedback{}, false
		}
		v[i] = n
	}
	return Feedback{StrengthA: v[0], StrengthB: v[1], LimitA: v[2], LimitB: v[3]}, true
}

// parseDigits accepts only unsigned decimal digits.
func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
