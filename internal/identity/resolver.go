// Package identity normalizes participant phone numbers and derives the
// stable key used to address student documents.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
)

// Separator joins phone and name before hashing. Changing it re-keys every document.
const Separator = "_"

// NormalizePhone reduces a raw phone string to its ASCII digits. Directional
// and other format characters are dropped first, then every non-digit,
// including a leading '+'.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.Is(unicode.Cf, r) {
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %q has no digits", apperrors.ErrInvalidIdentity, raw)
	}
	return b.String(), nil
}

// ComputeUniqID hashes a normalized phone and a display name into a hex key.
func ComputeUniqID(normalizedPhone, name string) (string, error) {
	if !isDigits(normalizedPhone) {
		return "", fmt.Errorf("%w: phone %q is not normalized", apperrors.ErrInvalidIdentity, normalizedPhone)
	}
	sum := md5.Sum([]byte(normalizedPhone + Separator + name))
	return hex.EncodeToString(sum[:]), nil
}

// LooksLikePhone reports whether a chat sender label is a phone number rather
// than a saved contact name.
func LooksLikePhone(sender string) bool {
	digits := 0
	for _, r := range sender {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || unicode.Is(unicode.Cf, r):
		default:
			return false
		}
	}
	return digits > 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
