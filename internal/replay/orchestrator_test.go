package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"LedgerAudit/internal/audit"
	"LedgerAudit/internal/drift"
	"LedgerAudit/internal/fixedpoint"
	"LedgerAudit/internal/guard"
	"LedgerAudit/internal/halt"
	"LedgerAudit/internal/ledger"
	"LedgerAudit/internal/rebuild"
	"LedgerAudit/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type countingRecorder struct {
	mu     sync.Mutex
	events map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{events: make(map[string]int)}
}

func (r *countingRecorder) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event]++
}

func (r *countingRecorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[event]
}

func (r *countingRecorder) Info(event string, _ audit.Fields)  { r.record(event) }
func (r *countingRecorder) Warn(event string, _ audit.Fields)  { r.record(event) }
func (r *countingRecorder) Error(event string, _ audit.Fields) { r.record(event) }

func dec(s string) fixedpoint.Decimal {
	return fixedpoint.MustParse(s)
}

type fixture struct {
	mem      *store.Memory
	sw       *halt.Switch
	recorder *countingRecorder
	seq      int64
}

func newFixture() *fixture {
	return &fixture{
		mem:      store.NewMemory(),
		sw:       halt.NewSwitch(),
		recorder: newCountingRecorder(),
	}
}

// addUser seeds a user with one cash deposit and a live wallet row. The
// live balance equals the ledger unless skewBalance shifts it.
func (f *fixture) addUser(deposit, skewBalance string) uuid.UUID {
	userID := uuid.New()
	ids := f.mem.AddUser(userID)

	f.seq++
	f.mem.AddEntry(ledger.Entry{
		GlobalSequence:  f.seq,
		DebitAccountID:  ids[ledger.AccountCash],
		CreditAccountID: 9999,
		Amount:          dec(deposit),
		IdempotencyKey:  uuid.NewString(),
		CreatedAt:       testBase,
	})

	liveBalance := dec(deposit).Add(dec(skewBalance))
	f.mem.SetWallet(store.LiveWallet{
		UserID:  userID,
		Balance: liveBalance,
		Equity:  liveBalance,
	})
	return userID
}

func (f *fixture) orchestrator(cfg Config) *Orchestrator {
	logger := zerolog.Nop()
	g := guard.NewGuard(f.mem, f.sw, f.recorder, nil, logger)
	wallets := rebuild.NewWalletRebuilder(f.mem, f.recorder, logger)
	positions := rebuild.NewPositionRebuilder(f.mem, f.mem, logger)
	equity := rebuild.NewEquityComposer(f.mem, nil, logger)
	detector := drift.NewDetector(f.mem, f.mem, f.sw, f.recorder, nil, logger, drift.DefaultConfig())
	return NewOrchestrator(f.mem, f.mem, g, wallets, positions, equity, detector, f.recorder, nil, logger, cfg)
}

func TestReplayNowDetectsAndHalts(t *testing.T) {
	f := newFixture()
	f.addUser("1000", "0")    // clean
	f.addUser("1000", "0.02") // tolerable drift
	f.addUser("1000", "5.50") // fatal drift

	o := f.orchestrator(Config{})
	summary, err := o.ReplayAsOf(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.UsersProcessed)
	assert.Equal(t, int64(2), summary.UsersWithDrift)
	assert.Equal(t, int64(1), summary.UsersWithFatalDrift)
	assert.True(t, summary.HaltTriggered)
	assert.False(t, f.sw.IsEnabled(), "fatal drift halted trading")
	assert.Equal(t, 1, f.recorder.count(audit.EventReplayStarted))
	assert.Equal(t, 1, f.recorder.count(audit.EventReplayCompleted))
	assert.False(t, summary.Cutoff.Historical)
	assert.False(t, summary.CompletedAt.Before(summary.StartedAt))
}

func TestReplayGuardBlocksRun(t *testing.T) {
	f := newFixture()
	userID := f.addUser("1000", "0")
	ids, err := f.mem.ListAccounts(context.Background(), userID)
	require.NoError(t, err)

	// Post the same event twice.
	f.mem.AddEntry(ledger.Entry{
		GlobalSequence:  100,
		DebitAccountID:  ids[0].ID,
		CreditAccountID: 9999,
		Amount:          dec("1"),
		IdempotencyKey:  "dup-key",
		CreatedAt:       testBase,
	})
	f.mem.AddEntry(ledger.Entry{
		GlobalSequence:  101,
		DebitAccountID:  ids[0].ID,
		CreditAccountID: 9999,
		Amount:          dec("1"),
		IdempotencyKey:  "dup-key",
		CreatedAt:       testBase,
	})

	o := f.orchestrator(Config{})
	_, err = o.ReplayAsOf(context.Background(), nil)

	var corruption *guard.CorruptionError
	require.True(t, errors.As(err, &corruption))
	assert.False(t, f.sw.IsEnabled())
	assert.Equal(t, 0, f.recorder.count(audit.EventUserStateRebuilt),
		"no per-user rebuild runs on a corrupt ledger")
	assert.Equal(t, 0, f.recorder.count(audit.EventReplayStarted))
}

func TestReplayHistoricalSkipsDriftDetection(t *testing.T) {
	f := newFixture()
	f.addUser("1000", "5.50") // would be fatal if compared

	asOf := testBase.Add(time.Minute)
	o := f.orchestrator(Config{})
	summary, err := o.ReplayAsOf(context.Background(), &asOf)
	require.NoError(t, err)

	assert.True(t, summary.Cutoff.Historical)
	assert.Equal(t, int64(1), summary.UsersProcessed)
	assert.Equal(t, int64(0), summary.UsersWithDrift,
		"historical rebuilds are not compared against today's projection")
	assert.True(t, f.sw.IsEnabled())
}

func TestReplayAtSequence(t *testing.T) {
	f := newFixture()
	f.addUser("1000", "0")
	f.addUser("2000", "0")

	o := f.orchestrator(Config{})
	summary, err := o.ReplayAtSequence(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Cutoff.Sequence)
	assert.True(t, summary.Cutoff.Historical)
	assert.Equal(t, int64(2), summary.UsersProcessed)
}

func TestReplayChunkSizeInvariance(t *testing.T) {
	f := newFixture()
	f.addUser("1000", "0")
	f.addUser("1000", "0.02")
	f.addUser("1000", "0.02")
	f.addUser("1000", "0")
	f.addUser("1000", "0")

	type counts struct{ processed, drifted, fatal int64 }
	var all []counts
	for _, chunk := range []int{1, 2, 100} {
		ff := newFixture()
		ff.mem = f.mem // same data, fresh switch and recorder
		o := ff.orchestrator(Config{ChunkSize: chunk})
		summary, err := o.ReplayAsOf(context.Background(), nil)
		require.NoError(t, err)
		all = append(all, counts{summary.UsersProcessed, summary.UsersWithDrift, summary.UsersWithFatalDrift})
	}

	assert.Equal(t, counts{5, 2, 0}, all[0])
	assert.Equal(t, all[0], all[1])
	assert.Equal(t, all[0], all[2])
}

func TestReplayParallelWorkersSameResult(t *testing.T) {
	f := newFixture()
	for i := 0; i < 10; i++ {
		skew := "0"
		if i%3 == 0 {
			skew = "0.05"
		}
		f.addUser("1000", skew)
	}

	sequential := f.orchestrator(Config{Workers: 1})
	seqSummary, err := sequential.ReplayAsOf(context.Background(), nil)
	require.NoError(t, err)

	ff := newFixture()
	ff.mem = f.mem
	parallel := ff.orchestrator(Config{Workers: 4, ChunkSize: 3})
	parSummary, err := parallel.ReplayAsOf(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, seqSummary.UsersProcessed, parSummary.UsersProcessed)
	assert.Equal(t, seqSummary.UsersWithDrift, parSummary.UsersWithDrift)
	assert.Equal(t, seqSummary.UsersWithFatalDrift, parSummary.UsersWithFatalDrift)
}
