package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountType classifies the five ledger accounts every user owns.
// The type is immutable: it is assigned at account opening and never changes.
type AccountType uint8

const (
	AccountCash AccountType = iota
	AccountMarginBlocked
	AccountUnrealizedPnL
	AccountRealizedPnL
	AccountFees
)

// AllAccountTypes lists the account types in canonical order.
var AllAccountTypes = []AccountType{
	AccountCash,
	AccountMarginBlocked,
	AccountUnrealizedPnL,
	AccountRealizedPnL,
	AccountFees,
}

func (t AccountType) String() string {
	switch t {
	case AccountCash:
		return "CASH"
	case AccountMarginBlocked:
		return "MARGIN_BLOCKED"
	case AccountUnrealizedPnL:
		return "UNREALIZED_PNL"
	case AccountRealizedPnL:
		return "REALIZED_PNL"
	case AccountFees:
		return "FEES"
	default:
		return "UNKNOWN"
	}
}

// ParseAccountType maps the storage representation back to an AccountType.
func ParseAccountType(s string) (AccountType, error) {
	switch s {
	case "CASH":
		return AccountCash, nil
	case "MARGIN_BLOCKED":
		return AccountMarginBlocked, nil
	case "UNREALIZED_PNL":
		return AccountUnrealizedPnL, nil
	case "REALIZED_PNL":
		return AccountRealizedPnL, nil
	case "FEES":
		return AccountFees, nil
	default:
		return 0, fmt.Errorf("ledger: unknown account type %q", s)
	}
}

// Account is one typed balance bucket belonging to exactly one user.
// Accounts are created once at account opening and never deleted.
type Account struct {
	ID     int64
	UserID uuid.UUID
	Type   AccountType
}
