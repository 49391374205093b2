package helper

import "strings"

// Shorten trims whitespace and clamps the string to the provided rune length.
func Shorten(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

// Snippet trims response bodies for logging without exceeding 256 characters.
func Snippet(body []byte) string {
	return Shorten(string(body), 256)
}

// MaskKey keeps the head and tail of a credential so logs can tell keys apart without leaking them.
func MaskKey(key string) string {
	const keep = 6
	if len(key) <= keep*2 {
		return strings.Repeat("*", len(key))
	}
	return key[:keep] + "..." + key[len(key)-keep:]
}
