package security

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// PayloadVersion prefixes every signed ticket payload.
const PayloadVersion = "tb1"

const minKeyLen = 16

var (
	ErrMalformedPayload = errors.New("malformed ticket payload")
	ErrBadSignature     = errors.New("ticket payload signature mismatch")
)

// PayloadSigner produces and verifies tb1.<ticketID>.<code>.<mac> strings,
// where mac is a keyed BLAKE2b-256 digest of everything before it.
type PayloadSigner struct {
	key []byte
}

func NewPayloadSigner(key string) (*PayloadSigner, error) {
	k := []byte(strings.TrimSpace(key))
	if len(k) < minKeyLen {
		return nil, fmt.Errorf("signing key must be at least %d bytes", minKeyLen)
	}
	if len(k) > blake2b.Size {
		return nil, fmt.Errorf("signing key must be at most %d bytes", blake2b.Size)
	}
	return &PayloadSigner{key: k}, nil
}

func (s *PayloadSigner) Sign(ticketID uuid.UUID, code string) (string, error) {
	body := PayloadVersion + "." + ticketID.String() + "." + code
	mac, err := s.mac(body)
	if err != nil {
		return "", err
	}
	return body + "." + base64.RawURLEncoding.EncodeToString(mac), nil
}

// Verify checks the MAC in constant time and returns the embedded ticket id and code.
func (s *PayloadSigner) Verify(payload string) (uuid.UUID, string, error) {
	parts := strings.Split(strings.TrimSpace(payload), ".")
	if len(parts) != 4 || parts[0] != PayloadVersion {
		return uuid.Nil, "", ErrMalformedPayload
	}
	ticketID, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, "", ErrMalformedPayload
	}
	given, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return uuid.Nil, "", ErrMalformedPayload
	}
	want, err := s.mac(strings.Join(parts[:3], "."))
	if err != nil {
		return uuid.Nil, "", err
	}
	if subtle.ConstantTimeCompare(given, want) != 1 {
		return uuid.Nil, "", ErrBadSignature
	}
	return ticketID, parts[2], nil
}

func (s *PayloadSigner) mac(body string) ([]byte, error) {
	h, err := blake2b.New256(s.key)
	if err != nil {
		return nil, fmt.Errorf("init mac: %w", err)
	}
	h.Write([]byte(body))
	return h.Sum(nil), nil
}
