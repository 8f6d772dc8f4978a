// Package ledger implements the tamper-evident audit ledger: a durable,
// append-only table of signed, hash-chained AuditRecords, plus chain
// verification and batched export for the (out-of-scope) external sync
// uploader.
package ledger

import "toolwarden/crypto"

// Direction is the side of the JSON-RPC exchange an AuditRecord documents.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Verdict mirrors policy.Verdict (including rate_limited), reproduced here so the
// ledger package does not need to import policy/admission just for a string
// enum.
type Verdict string

const (
	VerdictAllow       Verdict = "allow"
	VerdictDeny        Verdict = "deny"
	VerdictPassthrough Verdict = "passthrough"
	VerdictRateLimited Verdict = "rate_limited"
)

// RiskLevel mirrors risk.Level for the same reason.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// AuditRecord is the ledger entity described in §3. Every field but id and
// signature participates in the signable view; id is assigned by the store
// and signature is the output of signing everything else.
type AuditRecord struct {
	ID            int64
	Timestamp     string
	ServerName    string
	Direction     Direction
	Method        string
	MessageID     *string
	ToolName      *string
	ArgumentsJSON *string
	ResponseJSON  *string
	Verdict       Verdict
	RiskScore     *int
	RiskLevel     *RiskLevel
	PolicyHash    string
	PrevHash      string
	Nonce         string
	Signature     string
	PublicKeyPEM  string
}

// SignableView converts the record (minus id and signature) into the
// restricted value subset crypto.Canonical accepts.
func (r *AuditRecord) SignableView() map[string]interface{} {
	m := map[string]interface{}{
		"timestamp":   r.Timestamp,
		"server_name": r.ServerName,
		"direction":   string(r.Direction),
		"method":      r.Method,
		"verdict":     string(r.Verdict),
		"policy_hash": r.PolicyHash,
		"prev_hash":   r.PrevHash,
		"nonce":       r.Nonce,
		"public_key":  r.PublicKeyPEM,
	}
	m["message_id"] = nilableString(r.MessageID)
	m["tool_name"] = nilableString(r.ToolName)
	m["arguments_json"] = nilableString(r.ArgumentsJSON)
	m["response_json"] = nilableString(r.ResponseJSON)
	if r.RiskScore != nil {
		m["risk_score"] = int64(*r.RiskScore)
	} else {
		m["risk_score"] = nil
	}
	if r.RiskLevel != nil {
		m["risk_level"] = string(*r.RiskLevel)
	} else {
		m["risk_level"] = nil
	}
	return m
}

func nilableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// Canonical returns the canonical signable-view string for r.
func (r *AuditRecord) Canonical() (string, error) {
	return crypto.Canonical(r.SignableView())
}

// Sign computes and sets r.Signature over the canonical signable view using
// priv, and sets r.PublicKeyPEM from pub.
func (r *AuditRecord) Sign(kp *crypto.KeyPair) error {
	r.PublicKeyPEM = string(kp.PublicPEM())
	canon, err := r.Canonical()
	if err != nil {
		return err
	}
	r.Signature = crypto.Sign(kp.Private, canon)
	return nil
}

// VerifySignature reports whether r.Signature is a valid Ed25519 signature
// over r's canonical signable view under the embedded public key.
func (r *AuditRecord) VerifySignature() (bool, error) {
	pub, err := crypto.ParsePublicPEM([]byte(r.PublicKeyPEM))
	if err != nil {
		return false, err
	}
	canon, err := r.Canonical()
	if err != nil {
		return false, err
	}
	return crypto.Verify(pub, canon, r.Signature)
}
