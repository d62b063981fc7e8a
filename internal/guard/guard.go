// Package guard runs the pre-flight integrity check over the ledger
// itself. A duplicated idempotency key means an event was posted twice,
// which poisons every balance derived from it; nothing downstream is
// trusted until the scan comes back clean.
package guard

import (
	"context"
	"fmt"
	"strings"

	"LedgerAudit/internal/audit"
	"LedgerAudit/internal/observability"
	"LedgerAudit/internal/store"

	"github.com/rs/zerolog"
)

// HaltSignal suppresses order acceptance platform-wide.
type HaltSignal interface {
	Halt(reason string) bool
}

// CorruptionError reports duplicated idempotency keys in the ledger.
type CorruptionError struct {
	Duplicates []store.DuplicateKey
}

func (e *CorruptionError) Error() string {
	keys := make([]string, 0, len(e.Duplicates))
	for _, d := range e.Duplicates {
		keys = append(keys, d.IdempotencyKey)
	}
	return fmt.Sprintf("ledger corruption: %d idempotency keys posted more than once: %s",
		len(e.Duplicates), strings.Join(keys, ", "))
}

// Guard scans the ledger for duplicated idempotency keys.
type Guard struct {
	ledgerStore store.LedgerStore
	halt        HaltSignal
	recorder    audit.Recorder
	metrics     *observability.Metrics // may be nil
	logger      zerolog.Logger
}

func NewGuard(ls store.LedgerStore, halt HaltSignal, recorder audit.Recorder, metrics *observability.Metrics, logger zerolog.Logger) *Guard {
	return &Guard{
		ledgerStore: ls,
		halt:        halt,
		recorder:    recorder,
		metrics:     metrics,
		logger:      logger,
	}
}

// Check scans the whole ledger. On a duplicate it records a critical audit
// event, halts trading, and fails with a *CorruptionError so the calling
// replay aborts before any per-user rebuild runs.
func (g *Guard) Check(ctx context.Context) error {
	if g.metrics != nil {
		g.metrics.GuardScans.Inc()
	}

	dups, err := g.ledgerStore.DuplicateIdempotencyKeys(ctx)
	if err != nil {
		return fmt.Errorf("scan idempotency keys: %w", err)
	}
	if len(dups) == 0 {
		g.logger.Debug().Msg("idempotency scan clean")
		return nil
	}

	fields := audit.Fields{"duplicate_count": len(dups)}
	for _, d := range dups {
		fields["key_"+d.IdempotencyKey] = d.Sequences
	}
	g.recorder.Error(audit.EventLedgerDuplicationDetected, fields)

	if g.metrics != nil {
		g.metrics.GuardDuplicates.Add(float64(len(dups)))
	}

	g.halt.Halt(fmt.Sprintf("ledger corruption: %d duplicated idempotency keys", len(dups)))
	return &CorruptionError{Duplicates: dups}
}
