// Package drift compares canonically rebuilt user state against the live
// denormalized projections and classifies the difference. Drift is a
// report, not an error; only the fatal class escalates to a trading halt.
package drift

import (
	"context"
	"fmt"
	"sort"
	"time"

	"LedgerAudit/internal/audit"
	"LedgerAudit/internal/fixedpoint"
	"LedgerAudit/internal/observability"
	"LedgerAudit/internal/rebuild"
	"LedgerAudit/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HaltSignal suppresses order acceptance platform-wide. Halt returns true
// only for the call that performed the disabling transition.
type HaltSignal interface {
	Halt(reason string) bool
}

// Config holds the classification thresholds.
type Config struct {
	// Epsilon is the tolerance below which a monetary delta is noise.
	Epsilon fixedpoint.Decimal
	// HaltThreshold is the monetary delta above which drift is fatal.
	HaltThreshold fixedpoint.Decimal
	// HaltOnFatal controls whether fatal drift triggers the halt signal.
	HaltOnFatal bool
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Epsilon:       fixedpoint.MustParse("0.01"),
		HaltThreshold: fixedpoint.MustParse("1.00"),
		HaltOnFatal:   true,
	}
}

// PositionDrift is the per-instrument comparison. Quantities are compared
// exactly; any nonzero difference is a mismatch and always fatal.
type PositionDrift struct {
	InstrumentToken string

	RebuiltQuantity  int64
	LiveQuantity     int64
	QuantityMismatch bool

	RebuiltAveragePrice fixedpoint.Decimal
	LiveAveragePrice    fixedpoint.Decimal
	AveragePriceDelta   fixedpoint.Decimal

	RebuiltRealizedPnL fixedpoint.Decimal
	LiveRealizedPnL    fixedpoint.Decimal
	RealizedPnLDelta   fixedpoint.Decimal

	Drifted bool
	Fatal   bool
}

// Report is the full outcome of one comparison, carrying every delta an
// operator needs to diagnose the discrepancy.
type Report struct {
	UserID uuid.UUID

	RebuiltBalance fixedpoint.Decimal
	LiveBalance    fixedpoint.Decimal
	BalanceDelta   fixedpoint.Decimal

	RebuiltBlocked fixedpoint.Decimal
	LiveBlocked    fixedpoint.Decimal
	BlockedDelta   fixedpoint.Decimal

	RebuiltEquity fixedpoint.Decimal
	LiveEquity    fixedpoint.Decimal
	EquityDelta   fixedpoint.Decimal

	Positions []PositionDrift

	Detected      bool
	Fatal         bool
	HaltTriggered bool
	CheckedAt     time.Time
}

// Detector runs the comparison against the live projections.
type Detector struct {
	wallets   store.WalletProjection
	positions store.PositionProjection
	halt      HaltSignal
	recorder  audit.Recorder
	metrics   *observability.Metrics // may be nil
	logger    zerolog.Logger
	cfg       Config
}

func NewDetector(
	wallets store.WalletProjection,
	positions store.PositionProjection,
	halt HaltSignal,
	recorder audit.Recorder,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	cfg Config,
) *Detector {
	return &Detector{
		wallets:   wallets,
		positions: positions,
		halt:      halt,
		recorder:  recorder,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Detect compares the rebuilt snapshots against the live projection rows.
// A missing live wallet or position is compared as all zeros. The halt
// signal is invoked at most once per call, on the fatal classification.
func (d *Detector) Detect(ctx context.Context, wallet *rebuild.UserStateSnapshot, positions *rebuild.PositionsSnapshot, equity *rebuild.EquitySnapshot) (*Report, error) {
	userID := wallet.UserID

	live, found, err := d.wallets.GetWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read live wallet for user %s: %w", userID, err)
	}
	if !found {
		live = &store.LiveWallet{UserID: userID}
	}

	livePositions, err := d.positions.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read live positions for user %s: %w", userID, err)
	}

	rep := &Report{
		UserID:         userID,
		RebuiltBalance: wallet.CashBalance,
		LiveBalance:    live.Balance,
		BalanceDelta:   wallet.CashBalance.Sub(live.Balance).Abs(),
		RebuiltBlocked: wallet.BlockedMargin,
		LiveBlocked:    live.Blocked,
		BlockedDelta:   wallet.BlockedMargin.Sub(live.Blocked).Abs(),
		CheckedAt:      time.Now(),
	}
	if equity != nil {
		rep.RebuiltEquity = equity.Equity
		rep.LiveEquity = live.Equity
		rep.EquityDelta = equity.Equity.Sub(live.Equity).Abs()
	}

	rep.Positions = d.comparePositions(positions, livePositions)

	walletDetected := rep.BalanceDelta.Cmp(d.cfg.Epsilon) > 0 ||
		rep.BlockedDelta.Cmp(d.cfg.Epsilon) > 0 ||
		rep.EquityDelta.Cmp(d.cfg.Epsilon) > 0
	walletFatal := rep.BalanceDelta.Cmp(d.cfg.HaltThreshold) > 0 ||
		rep.BlockedDelta.Cmp(d.cfg.HaltThreshold) > 0 ||
		rep.EquityDelta.Cmp(d.cfg.HaltThreshold) > 0

	rep.Detected = walletDetected
	rep.Fatal = walletFatal
	for _, p := range rep.Positions {
		rep.Detected = rep.Detected || p.Drifted
		rep.Fatal = rep.Fatal || p.Fatal
	}

	d.classify(rep)
	return rep, nil
}

func (d *Detector) comparePositions(rebuilt *rebuild.PositionsSnapshot, live []store.LivePosition) []PositionDrift {
	liveByToken := make(map[string]store.LivePosition, len(live))
	tokens := make(map[string]bool)
	for _, p := range live {
		liveByToken[p.InstrumentToken] = p
		tokens[p.InstrumentToken] = true
	}
	for _, p := range rebuilt.Positions {
		tokens[p.InstrumentToken] = true
	}

	ordered := make([]string, 0, len(tokens))
	for token := range tokens {
		ordered = append(ordered, token)
	}
	sort.Strings(ordered)

	out := make([]PositionDrift, 0, len(ordered))
	for _, token := range ordered {
		// A side with no record is compared as flat with zero figures.
		var r rebuild.Position
		if p, ok := rebuilt.Open(token); ok {
			r = p
		}
		l := liveByToken[token]

		pd := PositionDrift{
			InstrumentToken:     token,
			RebuiltQuantity:     r.Quantity,
			LiveQuantity:        l.Quantity,
			QuantityMismatch:    r.Quantity != l.Quantity,
			RebuiltAveragePrice: r.AveragePrice,
			LiveAveragePrice:    l.AveragePrice,
			AveragePriceDelta:   r.AveragePrice.Sub(l.AveragePrice).Abs(),
			RebuiltRealizedPnL:  r.RealizedPnL,
			LiveRealizedPnL:     l.RealizedPnL,
			RealizedPnLDelta:    r.RealizedPnL.Sub(l.RealizedPnL).Abs(),
		}

		pd.Drifted = pd.QuantityMismatch ||
			pd.AveragePriceDelta.Cmp(d.cfg.Epsilon) > 0 ||
			pd.RealizedPnLDelta.Cmp(d.cfg.Epsilon) > 0
		// Position counts must be exact integers, so a quantity mismatch
		// is fatal at any magnitude.
		pd.Fatal = pd.QuantityMismatch ||
			pd.AveragePriceDelta.Cmp(d.cfg.HaltThreshold) > 0 ||
			pd.RealizedPnLDelta.Cmp(d.cfg.HaltThreshold) > 0

		out = append(out, pd)
	}
	return out
}

func (d *Detector) classify(rep *Report) {
	if !rep.Detected {
		return
	}

	fields := audit.Fields{
		"user_id":       rep.UserID.String(),
		"balance_delta": rep.BalanceDelta.String(),
		"blocked_delta": rep.BlockedDelta.String(),
		"equity_delta":  rep.EquityDelta.String(),
		"fatal":         rep.Fatal,
	}
	for _, p := range rep.Positions {
		if !p.Drifted {
			continue
		}
		fields["instrument_"+p.InstrumentToken] = fmt.Sprintf(
			"qty %d vs %d, avg delta %s, realized delta %s",
			p.RebuiltQuantity, p.LiveQuantity,
			p.AveragePriceDelta, p.RealizedPnLDelta)
	}

	if !rep.Fatal {
		d.countDrift("tolerable")
		d.recorder.Warn(audit.EventStateDriftDetected, fields)
		return
	}

	d.countDrift("fatal")
	d.recorder.Error(audit.EventStateDriftDetected, fields)

	if d.cfg.HaltOnFatal {
		reason := fmt.Sprintf("fatal state drift for user %s (balance delta %s)",
			rep.UserID, rep.BalanceDelta)
		rep.HaltTriggered = d.halt.Halt(reason)
		if rep.HaltTriggered && d.metrics != nil {
			d.metrics.HaltTriggered.Inc()
		}
	}
}

func (d *Detector) countDrift(severity string) {
	if d.metrics != nil {
		d.metrics.DriftDetected.WithLabelValues(severity).Inc()
	}
}
