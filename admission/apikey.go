// Package admission implements bearer-token verification — sessions and
// API keys — and the per-subject sliding-window rate limiter that feeds a
// subject id and rate cap into the relay's decision loop.
package admission

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"toolwarden/crypto"
)

const apiKeyPrefix = "qk_"

// rawAPIKeySecretBytes is the number of random bytes hex-encoded into the
// raw secret's suffix, giving 64 hex characters per §4.6.
const rawAPIKeySecretBytes = 32

// GenerateAPIKeySecret returns a fresh raw API key secret of the form
// "qk_" followed by 64 hex characters of CSPRNG output. The caller shows
// this to the operator once; only its SHA-256 hash is ever persisted.
func GenerateAPIKeySecret() (string, error) {
	buf := make([]byte, rawAPIKeySecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("admission: generate api key secret: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// HashAPIKeySecret returns the lookup hash stored alongside an API key
// record and compared against on bearer admission.
func HashAPIKeySecret(secret string) string {
	return crypto.SHA256HexString(secret)
}
