package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	pemBlockTypePublic  = "ED25519 PUBLIC KEY"
	pemBlockTypePrivate = "ED25519 PRIVATE KEY"
)

// KeyPair holds an operator's Ed25519 signing key in raw form; PublicPEM and
// PrivatePEM produce the PEM encodings on demand.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 key pair using the system CSPRNG.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key pair: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// PublicPEM encodes the public key as PEM.
func (k *KeyPair) PublicPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemBlockTypePublic, Bytes: k.Public})
}

// PrivatePEM encodes the private key as PEM. Callers persisting this to disk
// must apply the AEAD envelope or restrictive file permissions themselves —
// see EncodeEnvelope in keystore.go.
func (k *KeyPair) PrivatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemBlockTypePrivate, Bytes: k.Private})
}

// ParsePublicPEM decodes a PEM-encoded Ed25519 public key.
func ParsePublicPEM(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("crypto: no PEM block found for public key")
	}
	if len(block.Bytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("crypto: public key has wrong length %d", len(block.Bytes))
	}
	return ed25519.PublicKey(block.Bytes), nil
}

// ParsePrivatePEM decodes a PEM-encoded Ed25519 private key.
func ParsePrivatePEM(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("crypto: no PEM block found for private key")
	}
	if len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: private key has wrong length %d", len(block.Bytes))
	}
	return ed25519.PrivateKey(block.Bytes), nil
}

// Sign signs the UTF-8 bytes of a canonical string and returns the hex-encoded
// signature, per §4.1: "Signing and verification use standard Ed25519 over
// the UTF-8 bytes of the canonical string."
func Sign(priv ed25519.PrivateKey, canonical string) string {
	sig := ed25519.Sign(priv, []byte(canonical))
	return hex.EncodeToString(sig)
}

// Verify checks a hex-encoded Ed25519 signature against the canonical string
// it was allegedly produced from.
func Verify(pub ed25519.PublicKey, canonical string, signatureHex string) (bool, error) {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, fmt.Errorf("crypto: decode signature: %w", err)
	}
	return ed25519.Verify(pub, []byte(canonical), sig), nil
}
