package rebuild

import (
	"context"
	"fmt"
	"time"

	"LedgerAudit/internal/fixedpoint"
	"LedgerAudit/internal/observability"
	"LedgerAudit/internal/store"

	"github.com/rs/zerolog"
)

// Quote freshness bounds. A quote older than MaxQuoteAge, or stamped more
// than MaxFutureSkew ahead of now, is treated as unusable.
const (
	DefaultMaxQuoteAge   = 5000 * time.Millisecond
	DefaultMaxFutureSkew = 5000 * time.Millisecond
)

// ComposeOptions selects how equity is composed.
type ComposeOptions struct {
	// IncludeUnrealized requests unrealized PnL from live mark prices.
	// It is honored only for non-historical cutoffs; there is no live
	// price for a past instant.
	IncludeUnrealized bool

	// MaxQuoteAge overrides the staleness bound. 0 means the default.
	MaxQuoteAge time.Duration
}

// EquityComposer folds a wallet snapshot and a positions snapshot into a
// single equity figure, optionally marking open positions to live quotes.
type EquityComposer struct {
	quotes  store.QuoteReader
	metrics *observability.Metrics // may be nil
	logger  zerolog.Logger
	now     func() time.Time
}

func NewEquityComposer(quotes store.QuoteReader, metrics *observability.Metrics, logger zerolog.Logger) *EquityComposer {
	return &EquityComposer{
		quotes:  quotes,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Compose returns equity = cashBalance + totalCumulativeRealizedPnL +
// unrealizedPnL. A missing, stale, or future-stamped quote never fails the
// call: the position falls back to its own average price and contributes
// zero unrealized PnL.
func (c *EquityComposer) Compose(ctx context.Context, wallet *UserStateSnapshot, positions *PositionsSnapshot, opts ComposeOptions) (*EquitySnapshot, error) {
	snap := &EquitySnapshot{
		UserID:                     wallet.UserID,
		Cutoff:                     wallet.Cutoff,
		CashBalance:                wallet.CashBalance,
		TotalCumulativeRealizedPnL: positions.TotalCumulativeRealizedPnL,
		UnrealizedPnL:              fixedpoint.Zero(),
		PriceSource:                PriceSourceNone,
		RebuiltAt:                  time.Now(),
	}

	if opts.IncludeUnrealized && !wallet.Cutoff.Historical {
		snap.UnrealizedIncluded = true
		unrealized, liveUsed, err := c.markPositions(ctx, positions, opts)
		if err != nil {
			return nil, err
		}
		snap.UnrealizedPnL = unrealized
		if liveUsed {
			snap.PriceSource = PriceSourceLive
		}
	}

	snap.Equity = snap.CashBalance.
		Add(snap.TotalCumulativeRealizedPnL).
		Add(snap.UnrealizedPnL)
	return snap, nil
}

func (c *EquityComposer) markPositions(ctx context.Context, positions *PositionsSnapshot, opts ComposeOptions) (fixedpoint.Decimal, bool, error) {
	maxAge := opts.MaxQuoteAge
	if maxAge <= 0 {
		maxAge = DefaultMaxQuoteAge
	}

	unrealized := fixedpoint.Zero()
	liveUsed := false
	now := c.now()

	for _, p := range positions.Positions {
		quote, found, err := c.quotes.GetQuote(ctx, p.InstrumentToken)
		if err != nil {
			return fixedpoint.Zero(), false, fmt.Errorf("quote lookup for %s: %w", p.InstrumentToken, err)
		}

		mark := p.AveragePrice
		switch {
		case !found:
			c.fallback(p.InstrumentToken, "missing")
		case now.Sub(quote.UpdatedAt) > maxAge:
			c.fallback(p.InstrumentToken, "stale")
		case quote.UpdatedAt.Sub(now) > DefaultMaxFutureSkew:
			c.fallback(p.InstrumentToken, "future")
		default:
			mark = quote.Price
			liveUsed = true
		}

		// (mark - avg) * signed quantity covers both directions; the
		// fallback mark equals the average price, contributing zero.
		unrealized = unrealized.Add(mark.Sub(p.AveragePrice).MulInt(p.Quantity))
	}
	return unrealized, liveUsed, nil
}

func (c *EquityComposer) fallback(instrumentToken, reason string) {
	c.logger.Debug().
		Str("instrument_token", instrumentToken).
		Str("reason", reason).
		Msg("quote unusable, valuing position at average price")
	if c.metrics != nil {
		c.metrics.QuoteFallbacks.WithLabelValues(reason).Inc()
	}
}
