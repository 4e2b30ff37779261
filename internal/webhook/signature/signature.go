// Package signature validates webhook authenticity. The provider signs
// `<unix timestamp>.<raw body>` with HMAC-SHA256 over a per-source shared
// secret and sends signature and timestamp as headers.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

var (
	// ErrInvalidSignature means the HMAC did not match. The sender is
	// untrusted or the secret is wrong; the event is never enqueued.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrStaleTimestamp means the signed timestamp fell outside the
	// tolerance window. Protects against replayed captures.
	ErrStaleTimestamp = errors.New("stale timestamp")
)

// Verifier checks webhook signatures. Pure and stateless; safe for
// concurrent use.
type Verifier struct {
	tolerance time.Duration
}

// New creates a Verifier with the given timestamp tolerance
// (300s for live webhooks).
func New(tolerance time.Duration) Verifier {
	return Verifier{tolerance: tolerance}
}

// Verify checks the claimed signature over payload with the shared secret.
// The timestamp is checked first so replays fail fast, then the HMAC is
// compared in constant time.
func (v Verifier) Verify(payload []byte, claimed string, ts time.Time, secret string, now time.Time) error {
	age := now.Sub(ts)
	if age > v.tolerance || age < -v.tolerance {
		return ErrStaleTimestamp
	}

	expected := Compute(payload, ts, secret)
	claimedRaw, err := hex.DecodeString(claimed)
	if err != nil {
		return ErrInvalidSignature
	}
	expectedRaw, _ := hex.DecodeString(expected)
	if !hmac.Equal(claimedRaw, expectedRaw) {
		return ErrInvalidSignature
	}
	return nil
}

// Compute returns the hex HMAC-SHA256 of `<unix ts>.<payload>`. Exported so
// tests and provider simulators can sign payloads.
func Compute(payload []byte, ts time.Time, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
