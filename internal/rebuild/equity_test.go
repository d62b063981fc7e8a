package rebuild

import (
	"context"
	"testing"
	"time"

	"LedgerAudit/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func equityFixtures(userID uuid.UUID, cutoff Cutoff) (*UserStateSnapshot, *PositionsSnapshot) {
	wallet := &UserStateSnapshot{
		UserID:      userID,
		Cutoff:      cutoff,
		CashBalance: dec("1000"),
	}
	positions := &PositionsSnapshot{
		UserID: userID,
		Cutoff: cutoff,
		Positions: []Position{{
			InstrumentToken: "RELIANCE",
			Quantity:        10,
			AveragePrice:    dec("150"),
		}},
		TotalCumulativeRealizedPnL: dec("50"),
	}
	return wallet, positions
}

func newTestComposer(mem *store.Memory, now time.Time) *EquityComposer {
	c := NewEquityComposer(mem, nil, testLogger())
	c.now = func() time.Time { return now }
	return c
}

func TestComposeWithLiveQuote(t *testing.T) {
	mem := store.NewMemory()
	mem.SetQuote(store.Quote{InstrumentToken: "RELIANCE", Price: dec("160"), UpdatedAt: testBase})

	userID := uuid.New()
	wallet, positions := equityFixtures(userID, Cutoff{Sequence: 10, Time: testBase})
	c := newTestComposer(mem, testBase.Add(time.Second))

	snap, err := c.Compose(context.Background(), wallet, positions, ComposeOptions{IncludeUnrealized: true})
	require.NoError(t, err)

	assert.True(t, snap.UnrealizedIncluded)
	assert.Equal(t, PriceSourceLive, snap.PriceSource)
	assert.Equal(t, "100", snap.UnrealizedPnL.String(), "(160-150)*10")
	assert.Equal(t, "1150", snap.Equity.String(), "1000 + 50 + 100")
}

func TestComposeShortPosition(t *testing.T) {
	mem := store.NewMemory()
	mem.SetQuote(store.Quote{InstrumentToken: "RELIANCE", Price: dec("160"), UpdatedAt: testBase})

	userID := uuid.New()
	wallet, positions := equityFixtures(userID, Cutoff{Sequence: 10, Time: testBase})
	positions.Positions[0].Quantity = -10
	c := newTestComposer(mem, testBase.Add(time.Second))

	snap, err := c.Compose(context.Background(), wallet, positions, ComposeOptions{IncludeUnrealized: true})
	require.NoError(t, err)

	assert.Equal(t, "-100", snap.UnrealizedPnL.String(), "short loses as the mark rises")
	assert.Equal(t, "950", snap.Equity.String())
}

func TestComposeMissingQuoteFallsBack(t *testing.T) {
	mem := store.NewMemory() // no quotes

	userID := uuid.New()
	wallet, positions := equityFixtures(userID, Cutoff{Sequence: 10, Time: testBase})
	c := newTestComposer(mem, testBase)

	snap, err := c.Compose(context.Background(), wallet, positions, ComposeOptions{IncludeUnrealized: true})
	require.NoError(t, err)

	assert.True(t, snap.UnrealizedIncluded)
	assert.Equal(t, PriceSourceNone, snap.PriceSource)
	assert.Equal(t, "0", snap.UnrealizedPnL.String())
	assert.Equal(t, "1050", snap.Equity.String(), "cash + cumulative realized only")
}

func TestComposeStaleQuoteFallsBack(t *testing.T) {
	mem := store.NewMemory()
	mem.SetQuote(store.Quote{InstrumentToken: "RELIANCE", Price: dec("160"), UpdatedAt: testBase})

	userID := uuid.New()
	wallet, positions := equityFixtures(userID, Cutoff{Sequence: 10, Time: testBase})
	c := newTestComposer(mem, testBase.Add(6*time.Second)) // past the 5000ms bound

	snap, err := c.Compose(context.Background(), wallet, positions, ComposeOptions{IncludeUnrealized: true})
	require.NoError(t, err)

	assert.Equal(t, PriceSourceNone, snap.PriceSource)
	assert.Equal(t, "0", snap.UnrealizedPnL.String())
}

func TestComposeFutureQuoteFallsBack(t *testing.T) {
	mem := store.NewMemory()
	mem.SetQuote(store.Quote{InstrumentToken: "RELIANCE", Price: dec("160"), UpdatedAt: testBase.Add(10 * time.Second)})

	userID := uuid.New()
	wallet, positions := equityFixtures(userID, Cutoff{Sequence: 10, Time: testBase})
	c := newTestComposer(mem, testBase)

	snap, err := c.Compose(context.Background(), wallet, positions, ComposeOptions{IncludeUnrealized: true})
	require.NoError(t, err)

	assert.Equal(t, PriceSourceNone, snap.PriceSource)
	assert.Equal(t, "0", snap.UnrealizedPnL.String())
}

func TestComposeHistoricalSkipsUnrealized(t *testing.T) {
	mem := store.NewMemory()
	mem.SetQuote(store.Quote{InstrumentToken: "RELIANCE", Price: dec("160"), UpdatedAt: testBase})

	userID := uuid.New()
	wallet, positions := equityFixtures(userID, Cutoff{Sequence: 10, Time: testBase, Historical: true})
	c := newTestComposer(mem, testBase)

	snap, err := c.Compose(context.Background(), wallet, positions, ComposeOptions{IncludeUnrealized: true})
	require.NoError(t, err)

	assert.False(t, snap.UnrealizedIncluded, "no live price exists for a past instant")
	assert.Equal(t, PriceSourceNone, snap.PriceSource)
	assert.Equal(t, "1050", snap.Equity.String())
}

func TestComposeWithoutUnrealized(t *testing.T) {
	mem := store.NewMemory()

	userID := uuid.New()
	wallet, positions := equityFixtures(userID, Cutoff{Sequence: 10, Time: testBase})
	c := newTestComposer(mem, testBase)

	snap, err := c.Compose(context.Background(), wallet, positions, ComposeOptions{})
	require.NoError(t, err)

	assert.False(t, snap.UnrealizedIncluded)
	assert.Equal(t, "1050", snap.Equity.String())
}
