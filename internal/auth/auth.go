// Package auth covers credential generation and request authentication:
// bearer API keys, claim tokens, verification codes, and HMAC-signed
// requests with a clock-skew window.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

var (
	ErrBadSignature   = errors.New("signature mismatch")
	ErrStaleTimestamp = errors.New("timestamp outside allowed window")
)

// GenerateAPIKey returns a 64-hex agent secret from 32 random bytes.
func GenerateAPIKey() (string, error) {
	return randomHex(32)
}

// GenerateClaimToken returns a 32-hex one-time claim token from 16 random bytes.
func GenerateClaimToken() (string, error) {
	return randomHex(16)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateVerificationCode returns a zero-padded 6-digit code derived from
// 4 random bytes.
func GenerateVerificationCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	code := binary.BigEndian.Uint32(buf) % 1000000
	return fmt.Sprintf("%06d", code), nil
}

// Slugify derives an agent id from its display name: lowercase, runs of
// non-alphanumerics collapsed to a single underscore, edges trimmed.
func Slugify(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// Sign computes the hex HMAC-SHA256 of the canonical request string
// ts + "\n" + METHOD + "\n" + path + "\n" + body with the agent secret.
func Sign(secret string, tsMs int64, method, path, body string) string {
	canonical := fmt.Sprintf("%d\n%s\n%s\n%s", tsMs, method, path, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signed request: the timestamp must be within the
// skew window of now and the signature must match in constant time.
func VerifySignature(secret, signature string, tsMs int64, method, path, body string, now time.Time, window time.Duration) error {
	skew := now.UnixMilli() - tsMs
	if skew < 0 {
		skew = -skew
	}
	if skew > window.Milliseconds() {
		return ErrStaleTimestamp
	}

	expected := Sign(secret, tsMs, method, path, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrBadSignature
	}
	return nil
}
