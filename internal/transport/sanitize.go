package transport

import (
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// outsideBMP matches runes that need four bytes in UTF-8. Servers storing
// text in 3-byte utf8 columns reject them.
var outsideBMP = runes.Predicate(func(r rune) bool { return r > 0xFFFF })

// CleanString removes the runes outside the Basic Multilingual Plane.
func CleanString(s string) string {
	out, _, err := transform.String(runes.Remove(outsideBMP), s)
	if err != nil {
		return s
	}
	return out
}

// CleanArgs returns a copy of args with every string cleaned. Only the
// JSON-shaped values produced by PlainArgs are walked.
func CleanArgs(args any) any {
	switch v := args.(type) {
	case string:
		return CleanString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[CleanString(k)] = CleanArgs(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = CleanArgs(val)
		}
		return out
	default:
		return v
	}
}

// HasOutsideBMP reports whether any string in args contains a rune
// outside the Basic Multilingual Plane.
func HasOutsideBMP(args any) bool {
	switch v := args.(type) {
	case string:
		for _, r := range v {
			if outsideBMP.Contains(r) {
				return true
			}
		}
	case map[string]any:
		for k, val := range v {
			if HasOutsideBMP(k) || HasOutsideBMP(val) {
				return true
			}
		}
	case []any:
		for _, val := range v {
			if HasOutsideBMP(val) {
				return true
			}
		}
	}
	return false
}

// NFC returns s in Unicode normalization form C.
func NFC(s string) string {
	return norm.NFC.String(s)
}
