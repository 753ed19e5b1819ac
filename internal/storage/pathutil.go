package storage

import "strings"

// SafeName maps a market name such as "BTC/USD:PERP" to a file-safe base
// name.
func SafeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "chart"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
