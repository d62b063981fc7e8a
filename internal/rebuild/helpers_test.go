package rebuild

import (
	"time"

	"LedgerAudit/internal/fixedpoint"
	"LedgerAudit/internal/ledger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) fixedpoint.Decimal {
	return fixedpoint.MustParse(s)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func entry(seq, debit, credit int64, amount string, at time.Time) ledger.Entry {
	return ledger.Entry{
		GlobalSequence:  seq,
		DebitAccountID:  debit,
		CreditAccountID: credit,
		Amount:          dec(amount),
		IdempotencyKey:  uuid.NewString(),
		CreatedAt:       at,
	}
}

func fill(id int64, userID uuid.UUID, token string, side ledger.Side, qty int64, price string, at time.Time) ledger.Trade {
	return ledger.Trade{
		ID:              id,
		UserID:          userID,
		InstrumentToken: token,
		Side:            side,
		Quantity:        qty,
		Price:           dec(price),
		ExecutedAt:      at,
	}
}
