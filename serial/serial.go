// Package serial renders raw tag payloads as canonical serials: uppercase
// hexadecimal byte pairs joined by ':' (for example "04:A2:1F:9B").
package serial

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrEmpty is returned for empty payloads. An empty payload is absent
	// data, never a zero-length serial.
	ErrEmpty = errors.New("serial: empty payload")

	// ErrOutOfRange is returned when a numeric payload holds a value that is
	// not a byte.
	ErrOutOfRange = errors.New("serial: value out of byte range")

	// ErrInvalid is returned by Parse for input that is not hex byte pairs.
	ErrInvalid = errors.New("serial: invalid serial")
)

var canonical = regexp.MustCompile(`^[0-9A-F]{2}(:[0-9A-F]{2})*$`)

const hexDigits = "0123456789ABCDEF"

// Valid reports whether s is a canonical serial.
func Valid(s string) bool {
	return canonical.MatchString(s)
}

// Normalize renders raw bytes in their original order.
func Normalize(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", ErrEmpty
	}
	var sb strings.Builder
	sb.Grow(len(raw)*3 - 1)
	for i, b := range raw {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteByte(hexDigits[b>>4])
		sb.WriteByte(hexDigits[b&0x0F])
	}
	return sb.String(), nil
}

// NormalizeNumeric renders a numeric-array payload.
//
// Some phone/tag combinations deliver the serial as the character codes of
// its hex text with the byte order inverted. The values are therefore first
// read as characters: an even number of characters is regrouped into
// two-character chunks whose order is reversed, so "04A2" becomes "A2:04".
// An odd number of characters cannot hold hex pairs and each value is
// rendered as a byte instead, without reversal. Even-length input whose
// characters are not hex digits falls back to the same byte rendering so
// the result is always canonical.
func NormalizeNumeric(values []int) (string, error) {
	if len(values) == 0 {
		return "", ErrEmpty
	}
	raw := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 0xFF {
			return "", fmt.Errorf("%w: %d at index %d", ErrOutOfRange, v, i)
		}
		raw[i] = byte(v)
	}

	if len(raw)%2 == 0 {
		if s, ok := reversedPairs(string(raw)); ok {
			return s, nil
		}
	}
	return Normalize(raw)
}

// reversedPairs splits text into two-character chunks, reverses the chunk
// order and uppercases the result. ok is false when text is not hex.
func reversedPairs(text string) (string, bool) {
	upper := strings.ToUpper(text)
	n := len(upper) / 2
	chunks := make([]string, n)
	for i := 0; i < n; i++ {
		chunks[n-1-i] = upper[i*2 : i*2+2]
	}
	out := strings.Join(chunks, ":")
	return out, Valid(out)
}

// Parse normalizes a serial typed or pasted by a user. Accepted forms
// include "04:ab:1f:9b", "04AB1F9B", "04 AB 1F 9B" and "04-AB-1F-9B".
func Parse(s string) (string, error) {
	if s == "" {
		return "", ErrEmpty
	}

	cleaned := strings.NewReplacer(":", "", " ", "", "-", "").Replace(s)
	cleaned = strings.ToUpper(cleaned)
	if cleaned == "" {
		return "", ErrEmpty
	}
	if strings.Trim(cleaned, hexDigits) != "" {
		return "", fmt.Errorf("%w: contains non-hex characters: %q", ErrInvalid, s)
	}
	if len(cleaned)%2 != 0 {
		return "", fmt.Errorf("%w: odd number of hex characters: %q", ErrInvalid, s)
	}

	var result strings.Builder
	for i := 0; i < len(cleaned); i += 2 {
		if i > 0 {
			result.WriteByte(':')
		}
		result.WriteString(cleaned[i : i+2])
	}
	return result.String(), nil
}
