package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// NotificationFingerprint derives the dedupe key for a raw notification
// body. Keys are scoped by provider so identical bytes from two
// providers never collide.
func NotificationFingerprint(providerCode string, body []byte) string {
	sum := sha256.Sum256(body)
	return "wh:" + providerCode + ":" + hex.EncodeToString(sum[:])
}
