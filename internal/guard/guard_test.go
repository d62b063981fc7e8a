package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"LedgerAudit/internal/audit"
	"LedgerAudit/internal/fixedpoint"
	"LedgerAudit/internal/ledger"
	"LedgerAudit/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHalt struct{ calls int }

func (f *fakeHalt) Halt(string) bool {
	f.calls++
	return f.calls == 1
}

func testEntry(seq int64, key string) ledger.Entry {
	return ledger.Entry{
		GlobalSequence:  seq,
		DebitAccountID:  1,
		CreditAccountID: 2,
		Amount:          fixedpoint.FromInt(10),
		IdempotencyKey:  key,
		CreatedAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCheckCleanLedger(t *testing.T) {
	mem := store.NewMemory()
	mem.AddEntry(testEntry(1, "evt-1"))
	mem.AddEntry(testEntry(2, "evt-2"))

	h := &fakeHalt{}
	g := NewGuard(mem, h, audit.Nop{}, nil, zerolog.Nop())

	require.NoError(t, g.Check(context.Background()))
	assert.Equal(t, 0, h.calls)
}

func TestCheckDuplicateKeyHaltsAndFails(t *testing.T) {
	mem := store.NewMemory()
	mem.AddEntry(testEntry(1, "evt-1"))
	mem.AddEntry(testEntry(2, "evt-1")) // the same event posted twice
	mem.AddEntry(testEntry(3, "evt-2"))

	h := &fakeHalt{}
	g := NewGuard(mem, h, audit.Nop{}, nil, zerolog.Nop())

	err := g.Check(context.Background())
	require.Error(t, err)

	var corruption *CorruptionError
	require.True(t, errors.As(err, &corruption))
	require.Len(t, corruption.Duplicates, 1)
	assert.Equal(t, "evt-1", corruption.Duplicates[0].IdempotencyKey)
	assert.Equal(t, []int64{1, 2}, corruption.Duplicates[0].Sequences)
	assert.Equal(t, 1, h.calls, "corruption halts trading")
}
