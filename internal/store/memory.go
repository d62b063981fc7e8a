package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"LedgerAudit/internal/ledger"

	"github.com/google/uuid"
)

// Memory is an in-memory implementation of every collaborator interface.
// It backs the simulated platform in tests and local runs. Reads are
// guarded by a mutex so replay workers can share one instance.
type Memory struct {
	mu        sync.RWMutex
	accounts  map[uuid.UUID][]ledger.Account
	entries   []ledger.Entry // kept sorted by GlobalSequence
	trades    map[uuid.UUID][]ledger.Trade
	users     []uuid.UUID
	wallets   map[uuid.UUID]LiveWallet
	positions map[uuid.UUID][]LivePosition
	quotes    map[string]Quote
}

var (
	_ LedgerStore        = (*Memory)(nil)
	_ TradeStore         = (*Memory)(nil)
	_ UserDirectory      = (*Memory)(nil)
	_ WalletProjection   = (*Memory)(nil)
	_ PositionProjection = (*Memory)(nil)
	_ QuoteReader        = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[uuid.UUID][]ledger.Account),
		trades:    make(map[uuid.UUID][]ledger.Trade),
		wallets:   make(map[uuid.UUID]LiveWallet),
		positions: make(map[uuid.UUID][]LivePosition),
		quotes:    make(map[string]Quote),
	}
}

// --- seeding ---

// AddUser registers a user with its five ledger accounts and returns the
// account IDs keyed by type.
func (m *Memory) AddUser(userID uuid.UUID) map[ledger.AccountType]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users = append(m.users, userID)
	sort.Slice(m.users, func(i, j int) bool {
		return bytes.Compare(m.users[i][:], m.users[j][:]) < 0
	})

	ids := make(map[ledger.AccountType]int64, len(ledger.AllAccountTypes))
	for _, at := range ledger.AllAccountTypes {
		id := m.nextAccountIDLocked()
		m.accounts[userID] = append(m.accounts[userID], ledger.Account{
			ID:     id,
			UserID: userID,
			Type:   at,
		})
		ids[at] = id
	}
	return ids
}

func (m *Memory) nextAccountIDLocked() int64 {
	var n int64
	for _, accts := range m.accounts {
		n += int64(len(accts))
	}
	return n + 1
}

// AddEntry appends a posting, keeping the ledger ordered by sequence.
// Structurally invalid postings panic: the simulated writer must uphold
// the same invariants the real one does.
func (m *Memory) AddEntry(e ledger.Entry) {
	if err := e.Validate(); err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, e)
	sort.Slice(m.entries, func(i, j int) bool {
		return m.entries[i].GlobalSequence < m.entries[j].GlobalSequence
	})
}

// AddTrade appends a fill, keeping the user's trades in replay order.
func (m *Memory) AddTrade(t ledger.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trades[t.UserID] = append(m.trades[t.UserID], t)
	sort.Slice(m.trades[t.UserID], func(i, j int) bool {
		return m.trades[t.UserID][i].Before(m.trades[t.UserID][j])
	})
}

func (m *Memory) SetWallet(w LiveWallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[w.UserID] = w
}

func (m *Memory) SetPositions(userID uuid.UUID, positions []LivePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[userID] = positions
}

func (m *Memory) SetQuote(q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.InstrumentToken] = q
}

// --- LedgerStore ---

func (m *Memory) ListAccounts(_ context.Context, userID uuid.UUID) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accts := m.accounts[userID]
	out := make([]ledger.Account, len(accts))
	copy(out, accts)
	return out, nil
}

func (m *Memory) ListEntries(_ context.Context, accountIDs []int64, afterSequence, maxSequence int64, limit int) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owned := make(map[int64]bool, len(accountIDs))
	for _, id := range accountIDs {
		owned[id] = true
	}

	var out []ledger.Entry
	for _, e := range m.entries {
		if e.GlobalSequence <= afterSequence || e.GlobalSequence > maxSequence {
			continue
		}
		if !owned[e.DebitAccountID] && !owned[e.CreditAccountID] {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) LatestSequence(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return 0, nil
	}
	return m.entries[len(m.entries)-1].GlobalSequence, nil
}

func (m *Memory) LatestSequenceAt(_ context.Context, asOf time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var seq int64
	for _, e := range m.entries {
		if !e.CreatedAt.After(asOf) && e.GlobalSequence > seq {
			seq = e.GlobalSequence
		}
	}
	return seq, nil
}

func (m *Memory) SequenceTimestamp(_ context.Context, sequence int64) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.GlobalSequence == sequence {
			return e.CreatedAt, nil
		}
	}
	return time.Time{}, fmt.Errorf("no ledger entry at sequence %d", sequence)
}

func (m *Memory) DuplicateIdempotencyKeys(_ context.Context) ([]DuplicateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bySeq := make(map[string][]int64)
	for _, e := range m.entries {
		bySeq[e.IdempotencyKey] = append(bySeq[e.IdempotencyKey], e.GlobalSequence)
	}

	var dups []DuplicateKey
	for key, seqs := range bySeq {
		if len(seqs) > 1 {
			dups = append(dups, DuplicateKey{
				IdempotencyKey: key,
				Count:          int64(len(seqs)),
				Sequences:      seqs,
			})
		}
	}
	sort.Slice(dups, func(i, j int) bool {
		return dups[i].IdempotencyKey < dups[j].IdempotencyKey
	})
	return dups, nil
}

// --- TradeStore ---

func (m *Memory) ListTrades(_ context.Context, userID uuid.UUID, after TradeCursor, until time.Time, limit int) ([]ledger.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Trade
	for _, t := range m.trades[userID] {
		if t.ExecutedAt.After(until) {
			continue
		}
		afterCursor := t.ExecutedAt.After(after.ExecutedAt) ||
			(t.ExecutedAt.Equal(after.ExecutedAt) && t.ID > after.ID)
		if !afterCursor {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- UserDirectory ---

func (m *Memory) ListUserIDs(_ context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []uuid.UUID
	for _, id := range m.users {
		if bytes.Compare(id[:], after[:]) <= 0 {
			continue
		}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- projections ---

func (m *Memory) GetWallet(_ context.Context, userID uuid.UUID) (*LiveWallet, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[userID]
	if !ok {
		return nil, false, nil
	}
	return &w, true, nil
}

func (m *Memory) ListPositions(_ context.Context, userID uuid.UUID) ([]LivePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]LivePosition, len(m.positions[userID]))
	copy(out, m.positions[userID])
	return out, nil
}

func (m *Memory) GetQuote(_ context.Context, instrumentToken string) (*Quote, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.quotes[instrumentToken]
	if !ok {
		return nil, false, nil
	}
	return &q, true, nil
}
