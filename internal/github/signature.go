package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks a webhook payload against its
// X-Hub-Signature-256 header. The HMAC is computed over the exact raw
// body bytes; re-serialized JSON is not guaranteed to round-trip
// byte-identically. A missing or malformed header verifies as false.
func VerifySignature(body []byte, signature, secret string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hmac.Equal(sig, mac.Sum(nil))
}
