// Package store defines the read-only collaborator interfaces the replay
// engine consumes, plus the Postgres and in-memory implementations.
package store

import (
	"context"
	"time"

	"LedgerAudit/internal/fixedpoint"
	"LedgerAudit/internal/ledger"

	"github.com/google/uuid"
)

// DuplicateKey describes an idempotency key that appears on more than one
// ledger entry, meaning an event was posted twice.
type DuplicateKey struct {
	IdempotencyKey string
	Count          int64
	Sequences      []int64
}

// LedgerStore reads the append-only ledger. All entry reads are paginated
// by sequence cursor, never by offset, so they stay stable while writers
// keep appending.
type LedgerStore interface {
	// ListAccounts returns the user's ledger accounts (one per type).
	ListAccounts(ctx context.Context, userID uuid.UUID) ([]ledger.Account, error)

	// ListEntries returns entries touching any of the given accounts with
	// afterSequence < globalSequence <= maxSequence, ordered by sequence
	// ascending, at most limit rows.
	ListEntries(ctx context.Context, accountIDs []int64, afterSequence, maxSequence int64, limit int) ([]ledger.Entry, error)

	// LatestSequence returns the highest sequence in the ledger (0 if empty).
	LatestSequence(ctx context.Context) (int64, error)

	// LatestSequenceAt returns the highest sequence created at or before
	// asOf (0 if none).
	LatestSequenceAt(ctx context.Context, asOf time.Time) (int64, error)

	// SequenceTimestamp returns the creation time of the entry at the given
	// sequence, used to resolve the trade-scan cutoff for a sequence cutoff.
	SequenceTimestamp(ctx context.Context, sequence int64) (time.Time, error)

	// DuplicateIdempotencyKeys returns every idempotency key that appears
	// more than once across the whole ledger.
	DuplicateIdempotencyKeys(ctx context.Context) ([]DuplicateKey, error)
}

// TradeCursor is the (executedAt, id) position after which the next trade
// page starts. The zero value starts from the beginning.
type TradeCursor struct {
	ExecutedAt time.Time
	ID         int64
}

// TradeStore reads immutable fill records.
type TradeStore interface {
	// ListTrades returns the user's trades strictly after the cursor and
	// executed at or before until, ordered by (executedAt, id) ascending,
	// at most limit rows.
	ListTrades(ctx context.Context, userID uuid.UUID, after TradeCursor, until time.Time, limit int) ([]ledger.Trade, error)
}

// UserDirectory pages through the user population by user-id cursor.
type UserDirectory interface {
	// ListUserIDs returns up to limit user IDs strictly greater than after,
	// ordered ascending by ID bytes.
	ListUserIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

// LiveWallet is the denormalized wallet projection row, returned as a
// strongly typed, versioned record rather than inspected as loose data.
type LiveWallet struct {
	UserID    uuid.UUID
	Balance   fixedpoint.Decimal
	Blocked   fixedpoint.Decimal
	Equity    fixedpoint.Decimal
	Version   int64
	UpdatedAt time.Time
}

// WalletProjection point-reads the live wallet state for a user.
type WalletProjection interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (*LiveWallet, bool, error)
}

// LivePosition is the denormalized open-position projection row.
type LivePosition struct {
	UserID          uuid.UUID
	InstrumentToken string
	Quantity        int64 // signed: positive long, negative short
	AveragePrice    fixedpoint.Decimal
	RealizedPnL     fixedpoint.Decimal
	Version         int64
}

// PositionProjection point-reads the live open positions for a user.
type PositionProjection interface {
	ListPositions(ctx context.Context, userID uuid.UUID) ([]LivePosition, error)
}

// Quote is a live mark price with its freshness timestamp.
type Quote struct {
	InstrumentToken string
	Price           fixedpoint.Decimal
	UpdatedAt       time.Time
}

// QuoteReader looks up the live mark price for an instrument; found is
// false when no quote is known.
type QuoteReader interface {
	GetQuote(ctx context.Context, instrumentToken string) (*Quote, bool, error)
}
