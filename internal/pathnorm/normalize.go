// Package pathnorm implements the path and text canonicalization contract of
// §4.1: every relpath entering the system, and every text-valued column
// written to the review-state store, passes through Text so that lone
// surrogates produced by POSIX byte paths and decomposed Unicode forms never
// leak into comparison or persistence.
package pathnorm

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Text interprets s as a raw byte sequence that may contain surrogate-escaped
// bytes (the Go equivalent of Python's surrogateescape: an invalid UTF-8 byte
// that was smuggled through as a standalone rune), re-decodes it as UTF-8
// with the replacement character standing in for anything that still isn't
// valid, and finally applies Unicode NFC normalization so that visually
// identical paths compare equal across platforms that compose differently.
func Text(s string) string {
	cleaned := replaceInvalidUTF8(s)
	return norm.NFC.String(cleaned)
}

// replaceInvalidUTF8 walks s rune by rune, substituting utf8.RuneError for
// any byte sequence that doesn't decode cleanly. strings.ToValidUTF8 would
// collapse runs of bad bytes into a single replacement character; the scanner
// protocol needs one replacement per invalid byte to match the byte-for-byte
// behavior described in §4.1, so this walks manually instead.
func replaceInvalidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}
