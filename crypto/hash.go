package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex returns the lowercase hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256HexString is a convenience wrapper over SHA256Hex for string inputs,
// used for policy hashing and API-key secret hashing.
func SHA256HexString(s string) string {
	return SHA256Hex([]byte(s))
}

// Fingerprint returns the first 16 hex characters of the SHA-256 digest of
// the PEM-encoded public key body, used as a short operator-facing handle
// for a signing key without exposing the full key material in logs.
func Fingerprint(pemPublicKey []byte) string {
	full := SHA256Hex(pemPublicKey)
	return full[:16]
}
