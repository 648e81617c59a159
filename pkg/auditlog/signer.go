package auditlog

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// MinKeySize is the minimum HMAC key length the signer accepts.
const MinKeySize = 32

// ErrKeyTooShort is returned when the configured signing key decodes to
// fewer than MinKeySize bytes.
var ErrKeyTooShort = errors.New("auditlog: signing key must be at least 32 bytes")

// Signer computes and verifies canonical HMAC-SHA256 signatures over audit
// log records.
type Signer struct {
	key []byte
}

// NewSigner builds a Signer from secret, base64-decoding it first if it
// parses as standard base64; otherwise the raw bytes of secret are used as
// the key. Either way the resulting key must be at least MinKeySize bytes.
func NewSigner(secret string) (*Signer, error) {
	key := []byte(secret)
	if decoded, err := base64.StdEncoding.DecodeString(secret); err == nil {
		key = decoded
	}
	if len(key) < MinKeySize {
		return nil, ErrKeyTooShort
	}
	return &Signer{key: key}, nil
}

// Sign computes base64(HMAC-SHA256(canonical(r))) and returns it without
// mutating r.
func (s *Signer) Sign(r Record) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(r.canonical()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over r's canonical form and compares it
// to r.Signature in constant time.
func (s *Signer) Verify(r Record) (bool, error) {
	if r.Signature == "" {
		return false, fmt.Errorf("auditlog: record has no signature")
	}
	expected := s.Sign(r)
	return hmac.Equal([]byte(expected), []byte(r.Signature)), nil
}
