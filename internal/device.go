package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const fingerprintVersion = "v1:"

// DeviceFingerprint derives a stable device identifier from the request headers that
// describe the client. Two requests from the same browser profile hash identically.
func DeviceFingerprint(userAgent, acceptLanguage string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(userAgent) + "|" + strings.TrimSpace(acceptLanguage)))
	return fingerprintVersion + hex.EncodeToString(sum[:])
}

// HashBindingValue hashes v for use as an opaque store key.
func HashBindingValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}

// HashKey joins parts with "|" and returns the hex SHA-256 of the result.
func HashKey(parts ...string) string {
	sum := HashBindingValue(strings.Join(parts, "|"))
	return hex.EncodeToString(sum[:])
}
