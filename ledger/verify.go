package ledger

import (
	"context"
	"fmt"

	"toolwarden/crypto"
)

// ChainError describes one broken link found while verifying the ledger.
type ChainError struct {
	RecordID int64
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ledger: record %d: %s", e.RecordID, e.Reason)
}

// VerifyChain walks every record in ascending id order and checks that each
// record's signature is valid and that each record's PrevHash equals the
// SHA-256 of the previous record's signature (the empty string for the
// first record). It returns every ChainError found, not just the first, so
// an operator can see the full extent of tampering in one pass.
func VerifyChain(ctx context.Context, store *Store) ([]*ChainError, error) {
	records, err := store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: verify chain: %w", err)
	}

	var errs []*ChainError
	prevSignature := ""
	for _, rec := range records {
		ok, err := rec.VerifySignature()
		if err != nil {
			errs = append(errs, &ChainError{RecordID: rec.ID, Reason: fmt.Sprintf("signature could not be verified: %v", err)})
		} else if !ok {
			errs = append(errs, &ChainError{RecordID: rec.ID, Reason: "signature does not match record contents"})
		}

		wantPrevHash := ""
		if prevSignature != "" {
			wantPrevHash = crypto.SHA256HexString(prevSignature)
		}
		if rec.PrevHash != wantPrevHash {
			errs = append(errs, &ChainError{RecordID: rec.ID, Reason: "prev_hash does not match the hash of the preceding record's signature"})
		}

		prevSignature = rec.Signature
	}
	return errs, nil
}
