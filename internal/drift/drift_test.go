package drift

import (
	"context"
	"sync"
	"testing"

	"LedgerAudit/internal/audit"
	"LedgerAudit/internal/fixedpoint"
	"LedgerAudit/internal/rebuild"
	"LedgerAudit/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHalt struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeHalt) Halt(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.calls == 1
}

type countingRecorder struct {
	infos, warns, errors int
}

func (r *countingRecorder) Info(string, audit.Fields)  { r.infos++ }
func (r *countingRecorder) Warn(string, audit.Fields)  { r.warns++ }
func (r *countingRecorder) Error(string, audit.Fields) { r.errors++ }

func dec(s string) fixedpoint.Decimal {
	return fixedpoint.MustParse(s)
}

func rebuiltWallet(userID uuid.UUID, cashBalance string) *rebuild.UserStateSnapshot {
	return &rebuild.UserStateSnapshot{
		UserID:      userID,
		CashBalance: dec(cashBalance),
	}
}

func newDetector(mem *store.Memory, h HaltSignal, rec audit.Recorder, cfg Config) *Detector {
	return NewDetector(mem, mem, h, rec, nil, zerolog.Nop(), cfg)
}

func TestDetectCleanState(t *testing.T) {
	mem := store.NewMemory()
	userID := uuid.New()
	mem.SetWallet(store.LiveWallet{UserID: userID, Balance: dec("1000.00")})

	h := &fakeHalt{}
	rec := &countingRecorder{}
	d := newDetector(mem, h, rec, DefaultConfig())

	rep, err := d.Detect(context.Background(),
		rebuiltWallet(userID, "1000.00"),
		&rebuild.PositionsSnapshot{UserID: userID}, nil)
	require.NoError(t, err)

	assert.False(t, rep.Detected)
	assert.False(t, rep.Fatal)
	assert.Equal(t, 0, h.calls)
	assert.Equal(t, 0, rec.warns+rec.errors, "clean state emits no drift record")
}

func TestDetectTolerableDrift(t *testing.T) {
	mem := store.NewMemory()
	userID := uuid.New()
	mem.SetWallet(store.LiveWallet{UserID: userID, Balance: dec("1000.02")})

	h := &fakeHalt{}
	rec := &countingRecorder{}
	d := newDetector(mem, h, rec, DefaultConfig())

	rep, err := d.Detect(context.Background(),
		rebuiltWallet(userID, "1000.00"),
		&rebuild.PositionsSnapshot{UserID: userID}, nil)
	require.NoError(t, err)

	assert.True(t, rep.Detected)
	assert.False(t, rep.Fatal)
	assert.Equal(t, "0.02", rep.BalanceDelta.String())
	assert.Equal(t, 0, h.calls, "tolerable drift never halts")
	assert.Equal(t, 1, rec.warns)
	assert.Equal(t, 0, rec.errors)
}

func TestDetectFatalDriftHaltsOnce(t *testing.T) {
	mem := store.NewMemory()
	userID := uuid.New()
	mem.SetWallet(store.LiveWallet{UserID: userID, Balance: dec("1005.50")})

	h := &fakeHalt{}
	rec := &countingRecorder{}
	d := newDetector(mem, h, rec, DefaultConfig())

	rep, err := d.Detect(context.Background(),
		rebuiltWallet(userID, "1000.00"),
		&rebuild.PositionsSnapshot{UserID: userID}, nil)
	require.NoError(t, err)

	assert.True(t, rep.Detected)
	assert.True(t, rep.Fatal)
	assert.True(t, rep.HaltTriggered)
	assert.Equal(t, 1, h.calls, "halt invoked exactly once per detection")
	assert.Equal(t, 1, rec.errors)
}

func TestDetectQuantityMismatchAlwaysFatal(t *testing.T) {
	mem := store.NewMemory()
	userID := uuid.New()
	mem.SetWallet(store.LiveWallet{UserID: userID})
	mem.SetPositions(userID, []store.LivePosition{{
		UserID:          userID,
		InstrumentToken: "RELIANCE",
		Quantity:        11,
		AveragePrice:    dec("150"),
	}})

	h := &fakeHalt{}
	// Absurdly loose thresholds: the mismatch must still be fatal.
	cfg := Config{
		Epsilon:       dec("1000000"),
		HaltThreshold: dec("1000000"),
		HaltOnFatal:   true,
	}
	d := newDetector(mem, h, &countingRecorder{}, cfg)

	rep, err := d.Detect(context.Background(),
		rebuiltWallet(userID, "0"),
		&rebuild.PositionsSnapshot{
			UserID: userID,
			Positions: []rebuild.Position{{
				InstrumentToken: "RELIANCE",
				Quantity:        10,
				AveragePrice:    dec("150"),
			}},
		}, nil)
	require.NoError(t, err)

	assert.True(t, rep.Fatal)
	require.Len(t, rep.Positions, 1)
	assert.True(t, rep.Positions[0].QuantityMismatch)
	assert.Equal(t, 1, h.calls)
}

func TestDetectLiveOnlyPositionIsFatal(t *testing.T) {
	mem := store.NewMemory()
	userID := uuid.New()
	mem.SetWallet(store.LiveWallet{UserID: userID})
	mem.SetPositions(userID, []store.LivePosition{{
		UserID:          userID,
		InstrumentToken: "GHOST",
		Quantity:        5,
	}})

	h := &fakeHalt{}
	d := newDetector(mem, h, &countingRecorder{}, DefaultConfig())

	rep, err := d.Detect(context.Background(),
		rebuiltWallet(userID, "0"),
		&rebuild.PositionsSnapshot{UserID: userID}, nil)
	require.NoError(t, err)

	assert.True(t, rep.Fatal, "a live position absent from the ledger is corruption")
	require.Len(t, rep.Positions, 1)
	assert.Equal(t, int64(0), rep.Positions[0].RebuiltQuantity)
	assert.Equal(t, int64(5), rep.Positions[0].LiveQuantity)
}

func TestDetectMissingLiveWalletComparedAsZero(t *testing.T) {
	mem := store.NewMemory() // no wallet row
	userID := uuid.New()

	h := &fakeHalt{}
	d := newDetector(mem, h, &countingRecorder{}, DefaultConfig())

	rep, err := d.Detect(context.Background(),
		rebuiltWallet(userID, "1000"),
		&rebuild.PositionsSnapshot{UserID: userID}, nil)
	require.NoError(t, err)

	assert.Equal(t, "1000", rep.BalanceDelta.String())
	assert.True(t, rep.Fatal)
}

func TestDetectHaltDisabled(t *testing.T) {
	mem := store.NewMemory()
	userID := uuid.New()
	mem.SetWallet(store.LiveWallet{UserID: userID, Balance: dec("1005.50")})

	h := &fakeHalt{}
	cfg := DefaultConfig()
	cfg.HaltOnFatal = false
	d := newDetector(mem, h, &countingRecorder{}, cfg)

	rep, err := d.Detect(context.Background(),
		rebuiltWallet(userID, "1000.00"),
		&rebuild.PositionsSnapshot{UserID: userID}, nil)
	require.NoError(t, err)

	assert.True(t, rep.Fatal)
	assert.False(t, rep.HaltTriggered)
	assert.Equal(t, 0, h.calls)
}

func TestDetectEquityDelta(t *testing.T) {
	mem := store.NewMemory()
	userID := uuid.New()
	mem.SetWallet(store.LiveWallet{
		UserID:  userID,
		Balance: dec("1000"),
		Equity:  dec("1100"),
	})

	h := &fakeHalt{}
	d := newDetector(mem, h, &countingRecorder{}, DefaultConfig())

	rep, err := d.Detect(context.Background(),
		rebuiltWallet(userID, "1000"),
		&rebuild.PositionsSnapshot{UserID: userID},
		&rebuild.EquitySnapshot{UserID: userID, Equity: dec("1100.50")})
	require.NoError(t, err)

	assert.Equal(t, "0.5", rep.EquityDelta.String())
	assert.True(t, rep.Detected)
	assert.False(t, rep.Fatal)
}
