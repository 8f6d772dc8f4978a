// Package config owns the one piece of configuration that is core data
// rather than CLI plumbing: the policy document (§6, policy.json), loaded,
// validated, and hash-pinned so every ledger record can carry the policy
// hash that was in force when the decision was made. It also resolves the
// two environment variables named in §6.
package config

import (
	"fmt"
	"os"
	"strings"

	"toolwarden/crypto"
	"toolwarden/policy"
)

// DataDirEnvVar and KeystorePassphraseEnvVar are the two environment
// variables the relay's entrypoint resolves at startup, per §6.
const (
	DataDirEnvVar            = "TOOLWARDEN_DATA_DIR"
	KeystorePassphraseEnvVar = "TOOLWARDEN_KEYSTORE_PASSPHRASE"
	defaultDataDirName       = ".toolwarden"
)

// Loaded bundles a validated policy document with its pinned hash, so every
// caller that needs both gets them from the same load rather than
// recomputing the hash separately and risking drift.
type Loaded struct {
	Policy *policy.Policy
	Hash   string
}

// LoadPolicy reads, validates, and hash-pins the policy document at path.
// Validation errors are returned joined into one error so operators see
// every problem in a malformed document at once, per policy.Validate's
// contract.
func LoadPolicy(path string) (*Loaded, error) {
	p, err := policy.Load(path)
	if err != nil {
		return nil, err
	}
	if errs := policy.Validate(p); len(errs) > 0 {
		return nil, fmt.Errorf("config: invalid policy document: %w", joinErrors(errs))
	}
	hash, err := HashPolicy(p)
	if err != nil {
		return nil, fmt.Errorf("config: hash policy: %w", err)
	}
	return &Loaded{Policy: p, Hash: hash}, nil
}

// HashPolicy computes the stable fingerprint pinned into every audit record
// (AuditRecord.PolicyHash), over the policy's restricted canonical view.
func HashPolicy(p *policy.Policy) (string, error) {
	canonical, err := crypto.Canonical(p.AsSignable())
	if err != nil {
		return "", fmt.Errorf("config: canonicalize policy: %w", err)
	}
	return crypto.SHA256HexString(canonical), nil
}

// DataDir resolves TOOLWARDEN_DATA_DIR, falling back to policy.DataDir from
// the loaded document, then to a dotfile under the user's home directory.
func DataDir(p *policy.Policy) string {
	if dir := strings.TrimSpace(os.Getenv(DataDirEnvVar)); dir != "" {
		return dir
	}
	if p != nil && strings.TrimSpace(p.DataDir) != "" {
		return p.DataDir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home + string(os.PathSeparator) + defaultDataDirName
	}
	return defaultDataDirName
}

// KeystorePassphrase resolves TOOLWARDEN_KEYSTORE_PASSPHRASE directly; an
// empty return means the caller should fall back to interactive prompting
// via cmd/internal/passphrase, which is why this never itself prompts.
func KeystorePassphrase() string {
	return os.Getenv(KeystorePassphraseEnvVar)
}

func joinErrors(errs []error) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
