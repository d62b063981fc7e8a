package rebuild

import (
	"context"
	"fmt"
	"time"

	"LedgerAudit/internal/audit"
	"LedgerAudit/internal/fixedpoint"
	"LedgerAudit/internal/ledger"
	"LedgerAudit/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WalletRebuilder derives a user's per-account balances by replaying
// ledger postings. It never reads the live wallet projection.
type WalletRebuilder struct {
	ledgerStore store.LedgerStore
	recorder    audit.Recorder
	logger      zerolog.Logger
}

func NewWalletRebuilder(ls store.LedgerStore, recorder audit.Recorder, logger zerolog.Logger) *WalletRebuilder {
	return &WalletRebuilder{
		ledgerStore: ls,
		recorder:    recorder,
		logger:      logger,
	}
}

// RebuildUserState replays every posting touching the user's accounts at
// or before the cutoff. Debits add to the owning account's balance and
// credits subtract, per double entry. A user with no ledger accounts gets
// an all-zero snapshot. The result depends only on ledger content up to
// the cutoff, never on the batch size.
func (r *WalletRebuilder) RebuildUserState(ctx context.Context, userID uuid.UUID, opts Options) (*UserStateSnapshot, error) {
	cutoff, err := ResolveCutoff(ctx, r.ledgerStore, opts)
	if err != nil {
		return nil, err
	}

	accounts, err := r.ledgerStore.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts for user %s: %w", userID, err)
	}
	if len(accounts) == 0 {
		return r.zeroSnapshot(userID, cutoff), nil
	}

	typeByID := make(map[int64]ledger.AccountType, len(accounts))
	accountIDs := make([]int64, 0, len(accounts))
	for _, a := range accounts {
		typeByID[a.ID] = a.Type
		accountIDs = append(accountIDs, a.ID)
	}

	balances := make(map[ledger.AccountType]fixedpoint.Decimal, len(ledger.AllAccountTypes))
	for _, t := range ledger.AllAccountTypes {
		balances[t] = fixedpoint.Zero()
	}

	var (
		entryCount    int64
		firstSequence int64
		lastSequence  int64
		after         int64
		batch         = opts.batchSize()
	)

	for {
		entries, err := r.ledgerStore.ListEntries(ctx, accountIDs, after, cutoff.Sequence, batch)
		if err != nil {
			return nil, fmt.Errorf("list entries for user %s after sequence %d: %w", userID, after, err)
		}
		if len(entries) == 0 {
			break
		}

		for _, e := range entries {
			// One entry can touch two of the user's own accounts, so
			// both sides are checked independently.
			if t, ok := typeByID[e.DebitAccountID]; ok {
				balances[t] = balances[t].Add(e.Amount)
			}
			if t, ok := typeByID[e.CreditAccountID]; ok {
				balances[t] = balances[t].Sub(e.Amount)
			}

			if entryCount == 0 {
				firstSequence = e.GlobalSequence
			}
			lastSequence = e.GlobalSequence
			entryCount++
		}

		after = entries[len(entries)-1].GlobalSequence
		if len(entries) < batch {
			break
		}
	}

	freeCash := balances[ledger.AccountCash]
	blocked := balances[ledger.AccountMarginBlocked]

	net := fixedpoint.Zero()
	for _, t := range ledger.AllAccountTypes {
		net = net.Add(balances[t])
	}

	snap := &UserStateSnapshot{
		UserID:               userID,
		Cutoff:               cutoff,
		FreeCash:             freeCash,
		BlockedMargin:        blocked,
		CashBalance:          freeCash.Add(blocked),
		RealizedPnLAccount:   balances[ledger.AccountRealizedPnL],
		UnrealizedPnLAccount: balances[ledger.AccountUnrealizedPnL],
		Fees:                 balances[ledger.AccountFees],
		NetLedgerBalance:     net,
		EntryCount:           entryCount,
		FirstSequence:        firstSequence,
		LastSequence:         lastSequence,
		RebuiltAt:            time.Now(),
	}

	r.recorder.Info(audit.EventUserStateRebuilt, audit.Fields{
		"user_id":         userID.String(),
		"cutoff_sequence": cutoff.Sequence,
		"entry_count":     entryCount,
		"free_cash":       snap.FreeCash.String(),
		"blocked_margin":  snap.BlockedMargin.String(),
		"cash_balance":    snap.CashBalance.String(),
	})

	return snap, nil
}

func (r *WalletRebuilder) zeroSnapshot(userID uuid.UUID, cutoff Cutoff) *UserStateSnapshot {
	r.logger.Debug().Str("user_id", userID.String()).Msg("user has no ledger accounts")
	return &UserStateSnapshot{
		UserID:               userID,
		Cutoff:               cutoff,
		FreeCash:             fixedpoint.Zero(),
		BlockedMargin:        fixedpoint.Zero(),
		CashBalance:          fixedpoint.Zero(),
		RealizedPnLAccount:   fixedpoint.Zero(),
		UnrealizedPnLAccount: fixedpoint.Zero(),
		Fees:                 fixedpoint.Zero(),
		NetLedgerBalance:     fixedpoint.Zero(),
		RebuiltAt:            time.Now(),
	}
}
