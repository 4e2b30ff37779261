// Package correlation derives the one-way digest that lets the service
// recognize a returning identity after the identifying fields it was
// computed from have been destroyed. No raw PII is retained: only the
// salted digest is stored.
package correlation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher computes correlation hashes with a deployment-wide salt. The salt
// keeps the digest from being a rainbow-table lookup over known emails.
type Hasher struct {
	salt string
}

func New(salt string) Hasher {
	return Hasher{salt: salt}
}

// Hash returns the hex SHA-256 of the normalized natural-key fields joined
// with an unambiguous separator, plus the salt. Field order matters and
// callers must keep it stable; empty fields still occupy a position so
// ("a","") and ("","a") differ.
func (h Hasher) Hash(fields ...string) string {
	normalized := make([]string, len(fields))
	for i, f := range fields {
		normalized[i] = strings.ToLower(strings.TrimSpace(f))
	}

	digest := sha256.New()
	digest.Write([]byte(strings.Join(normalized, "\x1f")))
	digest.Write([]byte("\x1f"))
	digest.Write([]byte(h.salt))
	return hex.EncodeToString(digest.Sum(nil))
}
