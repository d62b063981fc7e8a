package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"LedgerAudit/internal/fixedpoint"
	"LedgerAudit/internal/ledger"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres implements every collaborator interface over the platform's
// Postgres schema. Monetary columns are NUMERIC; they are scanned as text
// and parsed through fixedpoint so no float ever touches a money value.
type Postgres struct {
	db *sql.DB
}

var (
	_ LedgerStore        = (*Postgres)(nil)
	_ TradeStore         = (*Postgres)(nil)
	_ UserDirectory      = (*Postgres)(nil)
	_ WalletProjection   = (*Postgres)(nil)
	_ PositionProjection = (*Postgres)(nil)
	_ QuoteReader        = (*Postgres)(nil)
)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// --- LedgerStore ---

func (p *Postgres) ListAccounts(ctx context.Context, userID uuid.UUID) ([]ledger.Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_type
		FROM ledger_accounts
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var (
			acct     ledger.Account
			typeText string
		)
		if err := rows.Scan(&acct.ID, &typeText); err != nil {
			return nil, err
		}
		acct.UserID = userID
		if acct.Type, err = ledger.ParseAccountType(typeText); err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (p *Postgres) ListEntries(ctx context.Context, accountIDs []int64, afterSequence, maxSequence int64, limit int) ([]ledger.Entry, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT global_sequence, debit_account_id, credit_account_id,
		       amount::text, idempotency_key, created_at
		FROM ledger_entries
		WHERE (debit_account_id = ANY($1) OR credit_account_id = ANY($1))
		  AND global_sequence > $2
		  AND global_sequence <= $3
		ORDER BY global_sequence ASC
		LIMIT $4
	`, pq.Array(accountIDs), afterSequence, maxSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e          ledger.Entry
			amountText string
		)
		if err := rows.Scan(
			&e.GlobalSequence, &e.DebitAccountID, &e.CreditAccountID,
			&amountText, &e.IdempotencyKey, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if e.Amount, err = fixedpoint.Parse(amountText); err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.GlobalSequence, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) LatestSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(global_sequence), 0) FROM ledger_entries
	`).Scan(&seq)
	return seq, err
}

func (p *Postgres) LatestSequenceAt(ctx context.Context, asOf time.Time) (int64, error) {
	var seq int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(global_sequence), 0)
		FROM ledger_entries
		WHERE created_at <= $1
	`, asOf).Scan(&seq)
	return seq, err
}

func (p *Postgres) SequenceTimestamp(ctx context.Context, sequence int64) (time.Time, error) {
	var ts time.Time
	err := p.db.QueryRowContext(ctx, `
		SELECT created_at FROM ledger_entries WHERE global_sequence = $1
	`, sequence).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("no ledger entry at sequence %d", sequence)
	}
	return ts, err
}

func (p *Postgres) DuplicateIdempotencyKeys(ctx context.Context) ([]DuplicateKey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT idempotency_key,
		       COUNT(*),
		       array_agg(global_sequence ORDER BY global_sequence)
		FROM ledger_entries
		GROUP BY idempotency_key
		HAVING COUNT(*) > 1
		ORDER BY idempotency_key
	`)
	if err != nil {
		return nil, fmt.Errorf("scan idempotency keys: %w", err)
	}
	defer rows.Close()

	var dups []DuplicateKey
	for rows.Next() {
		var (
			d    DuplicateKey
			seqs pq.Int64Array
		)
		if err := rows.Scan(&d.IdempotencyKey, &d.Count, &seqs); err != nil {
			return nil, err
		}
		d.Sequences = []int64(seqs)
		dups = append(dups, d)
	}
	return dups, rows.Err()
}

// --- TradeStore ---

func (p *Postgres) ListTrades(ctx context.Context, userID uuid.UUID, after TradeCursor, until time.Time, limit int) ([]ledger.Trade, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, instrument_token, side, quantity, price::text, executed_at
		FROM trades
		WHERE user_id = $1
		  AND executed_at <= $2
		  AND (executed_at > $3 OR (executed_at = $3 AND id > $4))
		ORDER BY executed_at ASC, id ASC
		LIMIT $5
	`, userID, until, after.ExecutedAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var trades []ledger.Trade
	for rows.Next() {
		var (
			t         ledger.Trade
			sideText  string
			priceText string
		)
		if err := rows.Scan(&t.ID, &t.InstrumentToken, &sideText, &t.Quantity, &priceText, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.UserID = userID
		t.Side = ledger.ParseSide(sideText)
		if t.Price, err = fixedpoint.Parse(priceText); err != nil {
			return nil, fmt.Errorf("trade %d: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// --- UserDirectory ---

func (p *Postgres) ListUserIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id FROM users
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- WalletProjection ---

func (p *Postgres) GetWallet(ctx context.Context, userID uuid.UUID) (*LiveWallet, bool, error) {
	var (
		w           = LiveWallet{UserID: userID}
		balanceText string
		blockedText string
		equityText  string
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT balance::text, blocked::text, equity::text, version, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID).Scan(&balanceText, &blockedText, &equityText, &w.Version, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get wallet: %w", err)
	}

	if w.Balance, err = fixedpoint.Parse(balanceText); err != nil {
		return nil, false, err
	}
	if w.Blocked, err = fixedpoint.Parse(blockedText); err != nil {
		return nil, false, err
	}
	if w.Equity, err = fixedpoint.Parse(equityText); err != nil {
		return nil, false, err
	}
	return &w, true, nil
}

// --- PositionProjection ---

func (p *Postgres) ListPositions(ctx context.Context, userID uuid.UUID) ([]LivePosition, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT instrument_token, quantity, average_price::text, realized_pnl::text, version
		FROM positions
		WHERE user_id = $1 AND quantity != 0
		ORDER BY instrument_token
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var positions []LivePosition
	for rows.Next() {
		var (
			lp      LivePosition
			avgText string
			pnlText string
		)
		if err := rows.Scan(&lp.InstrumentToken, &lp.Quantity, &avgText, &pnlText, &lp.Version); err != nil {
			return nil, err
		}
		lp.UserID = userID
		if lp.AveragePrice, err = fixedpoint.Parse(avgText); err != nil {
			return nil, err
		}
		if lp.RealizedPnL, err = fixedpoint.Parse(pnlText); err != nil {
			return nil, err
		}
		positions = append(positions, lp)
	}
	return positions, rows.Err()
}

// --- QuoteReader ---

func (p *Postgres) GetQuote(ctx context.Context, instrumentToken string) (*Quote, bool, error) {
	var (
		q         = Quote{InstrumentToken: instrumentToken}
		priceText string
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT price::text, updated_at FROM quotes WHERE instrument_token = $1
	`, instrumentToken).Scan(&priceText, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get quote: %w", err)
	}
	if q.Price, err = fixedpoint.Parse(priceText); err != nil {
		return nil, false, err
	}
	return &q, true, nil
}
