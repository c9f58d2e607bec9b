// Package github models inbound GitHub webhook deliveries: signature
// verification, event filtering, and extraction of the structured pull
// request event the mail pipeline consumes.
package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignaturePrefix is the scheme GitHub prepends to the hex digest in the
// X-Hub-Signature-256 header.
const SignaturePrefix = "sha256="

// VerifySignature reports whether signatureHeader matches the HMAC-SHA256
// of body under secret, in GitHub's "sha256=<hex>" form.
//
// It must be called with the raw, unparsed body bytes: re-serializing a
// decoded payload is not guaranteed byte-identical, so verifying anything
// else is incorrect. Returns false when the header is absent or no secret
// is configured; the caller decides whether an unconfigured secret means
// "skip verification" and owns logging that decision.
func VerifySignature(secret string, body []byte, signatureHeader string) bool {
	if secret == "" || signatureHeader == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := SignaturePrefix + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}
