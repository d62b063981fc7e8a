package rebuild

import (
	"context"
	"fmt"
	"sort"
	"time"

	"LedgerAudit/internal/fixedpoint"
	"LedgerAudit/internal/ledger"
	"LedgerAudit/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PositionRebuilder derives per-instrument position state by replaying a
// user's trade fills in (executedAt, id) order.
type PositionRebuilder struct {
	tradeStore  store.TradeStore
	ledgerStore store.LedgerStore // cutoff resolution only
	logger      zerolog.Logger
}

func NewPositionRebuilder(ts store.TradeStore, ls store.LedgerStore, logger zerolog.Logger) *PositionRebuilder {
	return &PositionRebuilder{
		tradeStore:  ts,
		ledgerStore: ls,
		logger:      logger,
	}
}

// RebuildPositions replays the user's fills executed at or before the
// cutoff time. Invalid fills are skipped, not fatal. The result depends
// only on trade content up to the cutoff, never on the batch size.
func (r *PositionRebuilder) RebuildPositions(ctx context.Context, userID uuid.UUID, opts Options) (*PositionsSnapshot, error) {
	cutoff, err := ResolveCutoff(ctx, r.ledgerStore, opts)
	if err != nil {
		return nil, err
	}

	var (
		accumulators = make(map[string]*accumulator)
		tradeCount   int64
		cursor       store.TradeCursor
		batch        = opts.batchSize()
	)

	for {
		trades, err := r.tradeStore.ListTrades(ctx, userID, cursor, cutoff.Time, batch)
		if err != nil {
			return nil, fmt.Errorf("list trades for user %s: %w", userID, err)
		}
		if len(trades) == 0 {
			break
		}

		for _, t := range trades {
			if !t.Valid() {
				r.logger.Warn().
					Str("user_id", userID.String()).
					Int64("trade_id", t.ID).
					Str("instrument_token", t.InstrumentToken).
					Str("side", t.Side.String()).
					Int64("quantity", t.Quantity).
					Msg("skipping invalid trade fill")
				continue
			}

			acc, ok := accumulators[t.InstrumentToken]
			if !ok {
				acc = &accumulator{instrumentToken: t.InstrumentToken}
				accumulators[t.InstrumentToken] = acc
			}
			if err := acc.apply(t); err != nil {
				return nil, fmt.Errorf("apply trade %d for user %s: %w", t.ID, userID, err)
			}
			tradeCount++
		}

		last := trades[len(trades)-1]
		cursor = store.TradeCursor{ExecutedAt: last.ExecutedAt, ID: last.ID}
		if len(trades) < batch {
			break
		}
	}

	snap := &PositionsSnapshot{
		UserID:                     userID,
		Cutoff:                     cutoff,
		TotalOpenRealizedPnL:       fixedpoint.Zero(),
		TotalCumulativeRealizedPnL: fixedpoint.Zero(),
		TradeCount:                 tradeCount,
		RebuiltAt:                  time.Now(),
	}

	tokens := make([]string, 0, len(accumulators))
	for token := range accumulators {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		acc := accumulators[token]
		if acc.quantity == 0 {
			continue
		}
		snap.Positions = append(snap.Positions, Position{
			InstrumentToken:       acc.instrumentToken,
			Quantity:              acc.quantity,
			AveragePrice:          acc.averagePrice,
			RealizedPnL:           acc.realizedPnL,
			CumulativeRealizedPnL: acc.cumulativeRealizedPnL,
			TradeCount:            acc.tradeCount,
			LastExecutedAt:        acc.lastExecutedAt,
		})
		snap.TotalOpenRealizedPnL = snap.TotalOpenRealizedPnL.Add(acc.realizedPnL)
		snap.TotalCumulativeRealizedPnL = snap.TotalCumulativeRealizedPnL.Add(acc.cumulativeRealizedPnL)
	}

	return snap, nil
}

// accumulator is the replay-local running state of one instrument.
type accumulator struct {
	instrumentToken       string
	quantity              int64 // signed: positive long, negative short
	averagePrice          fixedpoint.Decimal
	realizedPnL           fixedpoint.Decimal // current open cycle
	cumulativeRealizedPnL fixedpoint.Decimal // full history, never reset
	tradeCount            int64
	lastExecutedAt        time.Time
}

func (a *accumulator) apply(t ledger.Trade) error {
	signedDelta := t.Quantity
	if t.Side == ledger.SideSell {
		signedDelta = -t.Quantity
	}

	a.tradeCount++
	a.lastExecutedAt = t.ExecutedAt

	switch {
	case a.quantity == 0:
		// Flat: the fill opens a fresh position at its own price.
		a.quantity = signedDelta
		a.averagePrice = t.Price
		return nil

	case sameSign(a.quantity, signedDelta):
		// Same direction: quantity-weighted average cost, rounded
		// half-up at the fixed scale.
		oldQty := abs64(a.quantity)
		oldCost := a.averagePrice.MulInt(oldQty)
		newCost := t.Price.MulInt(t.Quantity)
		avg, err := oldCost.Add(newCost).DivIntHalfUp(oldQty + t.Quantity)
		if err != nil {
			return err
		}
		a.averagePrice = avg
		a.quantity += signedDelta
		return nil

	default:
		// Opposite direction: close up to the open quantity, realize the
		// difference between fill price and average cost.
		closedQty := abs64(a.quantity)
		if t.Quantity < closedQty {
			closedQty = t.Quantity
		}

		var perUnit fixedpoint.Decimal
		if t.Side == ledger.SideSell {
			perUnit = t.Price.Sub(a.averagePrice) // selling out of a long
		} else {
			perUnit = a.averagePrice.Sub(t.Price) // buying back a short
		}
		realizedDelta := perUnit.MulInt(closedQty)
		a.realizedPnL = a.realizedPnL.Add(realizedDelta)
		a.cumulativeRealizedPnL = a.cumulativeRealizedPnL.Add(realizedDelta)

		newQty := a.quantity + signedDelta
		switch {
		case newQty == 0:
			// Back to flat: the open cycle ends. Cumulative keeps the
			// full history.
			a.averagePrice = fixedpoint.Zero()
			a.realizedPnL = fixedpoint.Zero()
		case !sameSign(newQty, a.quantity):
			// Direction flip: the excess is a fresh position opened at
			// the current fill's price.
			a.averagePrice = t.Price
		}
		a.quantity = newQty
		return nil
	}
}

func sameSign(a, b int64) bool {
	return (a > 0) == (b > 0)
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
