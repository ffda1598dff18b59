package domain

import (
	"regexp"
	"strings"
)

// tickerPattern accepts 1-5 uppercase ASCII letters, nothing else.
var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

// NormalizeTicker trims and uppercases a ticker symbol, validating the
// result. Every ticker must pass through here before it reaches a store or
// cache key. Idempotent: normalizing a normalized ticker returns it as-is.
func NormalizeTicker(s string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if !tickerPattern.MatchString(t) {
		return "", NewValidationError("ticker", "must be 1-5 ASCII letters")
	}
	return t, nil
}

// IsValidTicker reports whether s is already a normalized ticker.
func IsValidTicker(s string) bool {
	return tickerPattern.MatchString(s)
}
