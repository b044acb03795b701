package internal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// RandomHex returns n cryptographically random bytes encoded as lowercase hex.
func RandomHex(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("invalid random length")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
