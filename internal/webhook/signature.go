// Package webhook authenticates provider callbacks and normalizes their
// payloads into settlement confirmations.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks an HMAC-SHA256 hex signature over the raw request
// body. Comparison is constant-time. The optional "sha256=" prefix is
// accepted.
func VerifySignature(secret string, body []byte, signature string) bool {
	trimmed := strings.TrimSpace(signature)
	trimmed = strings.TrimPrefix(trimmed, "sha256=")
	if trimmed == "" {
		return false
	}
	provided, err := hex.DecodeString(trimmed)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Sign computes the hex HMAC-SHA256 signature for a body. Used by tests and
// local tooling to produce valid callbacks.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
