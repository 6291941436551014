// Package webhook verifies and interprets GitHub push deliveries and records
// the builds they trigger.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// SignatureHeader carries the HMAC-SHA256 of the raw body.
	SignatureHeader = "X-Hub-Signature-256"
	// EventHeader names the event type.
	EventHeader = "X-GitHub-Event"
	// DeliveryHeader carries GitHub's unique delivery id.
	DeliveryHeader = "X-GitHub-Delivery"

	signaturePrefix = "sha256="
)

// Sign returns the X-Hub-Signature-256 value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid sha256 signature of payload under secret.
// Headers without the sha256= prefix, including legacy sha1= ones, and non-hex
// digests are rejected. The comparison is constant time.
func Verify(payload []byte, header, secret string) bool {
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	claimed, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil || len(claimed) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(claimed, mac.Sum(nil))
}
