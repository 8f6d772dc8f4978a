package ledger

import (
	"time"

	"github.com/google/uuid"

	"toolwarden/crypto"
)

// PendingRecord carries everything about one JSON-RPC exchange needed to
// produce a signed AuditRecord, except the chain linkage (prev_hash) and
// signature, which NewRecord fills in from the previous signature supplied
// by Store.InsertAtomic.
type PendingRecord struct {
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
}

// NewRecord builds and signs an AuditRecord from p, chaining it onto
// prevSignature. It is the Builder a relay's decision loop hands to
// Store.InsertAtomic.
func NewRecord(p PendingRecord, prevSignature string, kp *crypto.KeyPair, now func() time.Time) (*AuditRecord, error) {
	clock := now
	if clock == nil {
		clock = time.Now
	}
	prevHash := ""
	if prevSignature != "" {
		prevHash = crypto.SHA256HexString(prevSignature)
	}
	rec := &AuditRecord{
		Timestamp:     clock().UTC().Format(time.RFC3339Nano),
		ServerName:    p.ServerName,
		Direction:     p.Direction,
		Method:        p.Method,
		MessageID:     p.MessageID,
		ToolName:      p.ToolName,
		ArgumentsJSON: p.ArgumentsJSON,
		ResponseJSON:  p.ResponseJSON,
		Verdict:       p.Verdict,
		RiskScore:     p.RiskScore,
		RiskLevel:     p.RiskLevel,
		PolicyHash:    p.PolicyHash,
		PrevHash:      prevHash,
		Nonce:         uuid.NewString(),
	}
	if err := rec.Sign(kp); err != nil {
		return nil, err
	}
	return rec, nil
}
