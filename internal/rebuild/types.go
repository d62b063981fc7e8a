// Package rebuild reconstructs canonical user state from ledger history:
// wallet balances from double-entry postings, positions from trade fills,
// and equity from the two combined. Every rebuild is a pure function of
// the stored events at or before a fixed cutoff.
package rebuild

import (
	"context"
	"fmt"
	"time"

	"LedgerAudit/internal/fixedpoint"
	"LedgerAudit/internal/store"

	"github.com/google/uuid"
)

// DefaultBatchSize is the page size for ledger and trade scans when the
// caller does not choose one. Batch size never affects output.
const DefaultBatchSize = 500

// Cutoff is the point-in-time fence for one rebuild. Both the ledger scan
// (by Sequence) and the trade scan (by Time) use the same resolved pair,
// so the wallet view and position view describe the same instant.
type Cutoff struct {
	Sequence   int64
	Time       time.Time
	Historical bool
}

// Options selects the cutoff and page size for a rebuild call.
type Options struct {
	// AsOf rebuilds state as of a past timestamp. Nil means "now".
	AsOf *time.Time

	// AsOfSequence rebuilds state as of an explicit ledger sequence.
	// Takes precedence over AsOf when positive.
	AsOfSequence int64

	// BatchSize is the page size for store scans. 0 means DefaultBatchSize.
	BatchSize int

	// Cutoff, when set, is used verbatim instead of being resolved from
	// AsOf/AsOfSequence. The orchestrator resolves one cutoff per run and
	// pins it here so every user sees the same instant.
	Cutoff *Cutoff
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

// ResolveCutoff fixes the cutoff for a rebuild call. Precedence: explicit
// sequence, then asOf timestamp, then the current ledger head. Resolved
// exactly once per call and reused for every page fetch afterwards.
func ResolveCutoff(ctx context.Context, ls store.LedgerStore, opts Options) (Cutoff, error) {
	if opts.Cutoff != nil {
		return *opts.Cutoff, nil
	}

	switch {
	case opts.AsOfSequence > 0:
		ts, err := ls.SequenceTimestamp(ctx, opts.AsOfSequence)
		if err != nil {
			return Cutoff{}, fmt.Errorf("resolve timestamp for sequence %d: %w", opts.AsOfSequence, err)
		}
		return Cutoff{Sequence: opts.AsOfSequence, Time: ts, Historical: true}, nil

	case opts.AsOf != nil:
		seq, err := ls.LatestSequenceAt(ctx, *opts.AsOf)
		if err != nil {
			return Cutoff{}, fmt.Errorf("resolve sequence at %s: %w", opts.AsOf.Format(time.RFC3339Nano), err)
		}
		return Cutoff{Sequence: seq, Time: *opts.AsOf, Historical: true}, nil

	default:
		seq, err := ls.LatestSequence(ctx)
		if err != nil {
			return Cutoff{}, fmt.Errorf("resolve latest sequence: %w", err)
		}
		return Cutoff{Sequence: seq, Time: time.Now(), Historical: false}, nil
	}
}

// UserStateSnapshot is the rebuilt wallet state of one user: one balance
// per account type, derived purely from ledger postings at or before the
// cutoff. Immutable once returned.
type UserStateSnapshot struct {
	UserID uuid.UUID
	Cutoff Cutoff

	FreeCash      fixedpoint.Decimal
	BlockedMargin fixedpoint.Decimal
	// CashBalance is FreeCash + BlockedMargin.
	CashBalance          fixedpoint.Decimal
	RealizedPnLAccount   fixedpoint.Decimal
	UnrealizedPnLAccount fixedpoint.Decimal
	Fees                 fixedpoint.Decimal

	// NetLedgerBalance sums all five account balances. Diagnostic only,
	// not asserted to be zero.
	NetLedgerBalance fixedpoint.Decimal

	EntryCount    int64
	FirstSequence int64
	LastSequence  int64
	RebuiltAt     time.Time
}

// Position is the rebuilt state of one instrument for one user.
type Position struct {
	InstrumentToken string
	// Quantity is signed: positive long, negative short.
	Quantity     int64
	AveragePrice fixedpoint.Decimal
	// RealizedPnL covers the current open cycle; it resets when the
	// position returns exactly to flat.
	RealizedPnL fixedpoint.Decimal
	// CumulativeRealizedPnL never resets. Audit-grade full history for
	// the instrument, exposed so callers can aggregate across closes.
	CumulativeRealizedPnL fixedpoint.Decimal
	TradeCount            int64
	LastExecutedAt        time.Time
}

// PositionsSnapshot is the rebuilt position state of one user: the open
// positions plus aggregates over them.
type PositionsSnapshot struct {
	UserID uuid.UUID
	Cutoff Cutoff

	// Positions lists the currently non-flat instruments, ordered by token.
	Positions []Position

	// Aggregates are summed over currently open positions only; realized
	// PnL of instruments closed back to flat is visible per instrument via
	// CumulativeRealizedPnL but excluded here.
	TotalOpenRealizedPnL       fixedpoint.Decimal
	TotalCumulativeRealizedPnL fixedpoint.Decimal

	TradeCount int64
	RebuiltAt  time.Time
}

// Open returns the rebuilt position for the instrument, or false when the
// user is flat in it.
func (s *PositionsSnapshot) Open(instrumentToken string) (Position, bool) {
	for _, p := range s.Positions {
		if p.InstrumentToken == instrumentToken {
			return p, true
		}
	}
	return Position{}, false
}

// Price sources reported by the equity composer.
const (
	PriceSourceLive = "LIVE"
	PriceSourceNone = "NONE"
)

// EquitySnapshot is the single equity figure composed from a wallet and a
// positions snapshot: cash + cumulative realized + unrealized.
type EquitySnapshot struct {
	UserID uuid.UUID
	Cutoff Cutoff

	CashBalance                fixedpoint.Decimal
	TotalCumulativeRealizedPnL fixedpoint.Decimal
	UnrealizedPnL              fixedpoint.Decimal
	Equity                     fixedpoint.Decimal

	// UnrealizedIncluded reports whether unrealized PnL was computed at
	// all; it is skipped for historical cutoffs and when not requested.
	UnrealizedIncluded bool
	// PriceSource is LIVE when at least one live mark price was used,
	// NONE otherwise.
	PriceSource string

	RebuiltAt time.Time
}
