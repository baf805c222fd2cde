package transfer

import (
	"strings"
	"unicode/utf8"
)

const (
	unsafeChars  = `<>:"/\|?*`
	maxNameBytes = 255
	fallbackName = "unnamed_file"
)

// SanitizeName makes a declared filename safe for both the staging
// directory and the remote path: unsafe and control characters become
// underscores, leading and trailing dots and spaces go away, the result is
// capped at 255 bytes on a rune boundary, and an empty result falls back
// to a fixed name.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(unsafeChars, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), ". ")
	if len(out) > maxNameBytes {
		cut := maxNameBytes
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = strings.TrimRight(out[:cut], ". ")
	}
	if out == "" {
		return fallbackName
	}
	return out
}
