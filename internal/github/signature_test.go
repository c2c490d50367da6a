package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "hook-secret"
	body := []byte(`{"action":"opened","repository":{"full_name":"acme/widgets"}}`)

	t.Run("accepts a valid signature", func(t *testing.T) {
		assert.True(t, VerifySignature(body, sign(body, secret), secret))
	})

	t.Run("rejects a tampered payload byte", func(t *testing.T) {
		signature := sign(body, secret)
		tampered := append([]byte(nil), body...)
		tampered[0] ^= 0x01
		assert.False(t, VerifySignature(tampered, signature, secret))
	})

	t.Run("rejects the wrong secret", func(t *testing.T) {
		assert.False(t, VerifySignature(body, sign(body, "other-secret"), secret))
	})

	t.Run("rejects a missing header", func(t *testing.T) {
		assert.False(t, VerifySignature(body, "", secret))
	})

	t.Run("rejects a header without the sha256 prefix", func(t *testing.T) {
		raw := sign(body, secret)
		assert.False(t, VerifySignature(body, raw[len("sha256="):], secret))
	})

	t.Run("rejects non-hex digest without panicking", func(t *testing.T) {
		assert.False(t, VerifySignature(body, "sha256=not-hex!", secret))
	})
}

func TestParseEventKind(t *testing.T) {
	cases := map[string]EventKind{
		"push":         EventPush,
		"pull_request": EventPullRequest,
		"issues":       EventIssues,
		"ping":         EventPing,
		"star":         EventUnknown,
		"":             EventUnknown,
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseEventKind(input), "input %q", input)
	}
}
