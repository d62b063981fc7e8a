package ledger

import (
	"fmt"
	"time"

	"LedgerAudit/internal/fixedpoint"
)

// Entry is one immutable double-entry posting in the append-only ledger.
// Posting an entry increases the debit account's balance by Amount and
// decreases the credit account's balance by the same Amount. An entry never
// touches a single account twice.
type Entry struct {
	GlobalSequence  int64 // strictly increasing, assigned by the ledger writer
	DebitAccountID  int64
	CreditAccountID int64
	Amount          fixedpoint.Decimal // always non-negative
	IdempotencyKey  string             // unique across the whole ledger
	CreatedAt       time.Time
}

// Validate checks the structural invariants of a single posting.
func (e Entry) Validate() error {
	if e.Amount.Sign() < 0 {
		return fmt.Errorf("entry %d has negative amount %s", e.GlobalSequence, e.Amount)
	}
	if e.DebitAccountID == e.CreditAccountID {
		return fmt.Errorf("entry %d has same debit and credit account %d", e.GlobalSequence, e.DebitAccountID)
	}
	if e.IdempotencyKey == "" {
		return fmt.Errorf("entry %d has empty idempotency key", e.GlobalSequence)
	}
	return nil
}
