package credits

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateAPIKey mints a 64-char hex API key. The value is the whole secret;
// there is no HMAC or derivation.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
