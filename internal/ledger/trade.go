package ledger

import (
	"time"

	"LedgerAudit/internal/fixedpoint"

	"github.com/google/uuid"
)

// Side is the direction of a trade fill.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseSide maps the storage representation back to a Side.
// Unknown values map to SideUnknown; the replay engine skips such fills.
func ParseSide(s string) Side {
	switch s {
	case "BUY":
		return SideBuy
	case "SELL":
		return SideSell
	default:
		return SideUnknown
	}
}

// Trade is an immutable fill record. Replay order is (ExecutedAt, ID)
// ascending; the ID tiebreak keeps the order total when timestamps collide.
type Trade struct {
	ID              int64
	UserID          uuid.UUID
	InstrumentToken string
	Side            Side
	Quantity        int64 // positive integer
	Price           fixedpoint.Decimal
	ExecutedAt      time.Time
}

// Valid reports whether the fill is usable for replay. Invalid fills are
// skipped, not fatal: the trade feed is an external collaborator and a
// malformed row must not poison the whole reconstruction.
func (t Trade) Valid() bool {
	return t.InstrumentToken != "" &&
		t.Quantity > 0 &&
		(t.Side == SideBuy || t.Side == SideSell)
}

// Before reports whether t precedes other in replay order.
func (t Trade) Before(other Trade) bool {
	if !t.ExecutedAt.Equal(other.ExecutedAt) {
		return t.ExecutedAt.Before(other.ExecutedAt)
	}
	return t.ID < other.ID
}
