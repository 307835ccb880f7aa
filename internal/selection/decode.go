package selection

import (
	"bytes"
	"slices"
	"unicode/utf8"
)

// Plain-text MIME types in order of preference.
var textMIMEs = []string{
	"text/plain;charset=utf-8",
	"text/plain",
	"UTF8_STRING",
	"TEXT",
	"STRING",
}

// PickMIME returns the most preferred plain-text type among those an offer
// advertised, or text/plain;charset=utf-8 when it advertised none.
func PickMIME(advertised []string) string {
	for _, m := range textMIMEs {
		if slices.Contains(advertised, m) {
			return m
		}
	}
	return textMIMEs[0]
}

// Decode turns selection bytes into text. Bytes containing a NUL are binary
// content; bytes that are not UTF-8 are malformed. Both yield a *DecodeError.
func Decode(b []byte) (string, error) {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return "", &DecodeError{NUL: true, Offset: i}
	}
	if !utf8.Valid(b) {
		return "", &DecodeError{Offset: invalidOffset(b)}
	}
	return string(b), nil
}

func invalidOffset(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(b)
}
