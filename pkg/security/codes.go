// Package security mints unguessable human-facing codes and signs scannable payloads.
package security

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io"
	"strings"
)

// crockford is Crockford's base32 alphabet: no I, L, O or U.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockfordEncoding = base32.NewEncoding(crockford).WithPadding(base32.NoPadding)

// TicketCodeBytes is the entropy behind a ticket code (80 bits, 16 symbols).
const TicketCodeBytes = 10

const groupSize = 4

// Reader is the entropy source; tests may swap it.
var Reader io.Reader = rand.Reader

// RandomCode returns n random bytes encoded in Crockford base32.
func RandomCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("code length must be positive")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(Reader, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return crockfordEncoding.EncodeToString(buf), nil
}

// NewTicketCode returns a code formatted as XXXX-XXXX-XXXX-XXXX.
func NewTicketCode() (string, error) {
	raw, err := RandomCode(TicketCodeBytes)
	if err != nil {
		return "", err
	}
	return group(raw), nil
}

// NormalizeTicketCode canonicalizes user input: case, separators and the
// Crockford look-alikes (I/L read as 1, O as 0). It reports false when the
// result is not a well-formed ticket code.
func NormalizeTicketCode(input string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(input) {
		switch {
		case r == '-' || r == ' ':
			continue
		case r == 'I' || r == 'L':
			r = '1'
		case r == 'O':
			r = '0'
		}
		if !strings.ContainsRune(crockford, r) {
			return "", false
		}
		b.WriteRune(r)
	}
	raw := b.String()
	if len(raw) != crockfordEncoding.EncodedLen(TicketCodeBytes) {
		return "", false
	}
	return group(raw), true
}

func group(raw string) string {
	parts := make([]string, 0, len(raw)/groupSize+1)
	for len(raw) > groupSize {
		parts = append(parts, raw[:groupSize])
		raw = raw[groupSize:]
	}
	parts = append(parts, raw)
	return strings.Join(parts, "-")
}
