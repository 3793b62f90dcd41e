package util

import "strings"

// NormalizeSymbol upper-cases and trims a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeSymbols normalizes a slice, dropping empties and duplicates while
// preserving order.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		n := NormalizeSymbol(s)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// WireSymbols lower-cases symbols for the stream protocol.
func WireSymbols(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}
