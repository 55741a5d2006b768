package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelab/ammd/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeCols = `id, market_id, outcome, side, collateral_amount, token_amount, fee, actor, created_at`

// Insert appends one trade to the log. Trades are immutable; a duplicate ID
// is a programming error surfaced as a constraint violation.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, market_id, outcome, side,
			collateral_amount, token_amount, fee, actor, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.MarketID, int32(t.Outcome), string(t.Side),
		amountString(t.CollateralAmount), amountString(t.TokenAmount),
		amountString(t.Fee), t.Actor.Hex(), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByMarket returns a market's trades with pagination, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryTrades(ctx, query, args...)
}

// ListBefore returns a market's trades older than the given instant, oldest
// first. The archiver streams these into cold storage.
func (s *TradeStore) ListBefore(ctx context.Context, marketID string, before time.Time) ([]domain.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeCols+` FROM trades
		 WHERE market_id = $1 AND created_at < $2
		 ORDER BY created_at ASC`, marketID, before)
}

// DeleteByMarket removes all trades of one market and reports how many rows
// went away. Only called after a successful archive upload.
func (s *TradeStore) DeleteByMarket(ctx context.Context, marketID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE market_id = $1`, marketID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades for %s: %w", marketID, err)
	}
	return tag.RowsAffected(), nil
}

func (s *TradeStore) queryTrades(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: trades rows: %w", err)
	}
	return out, nil
}

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t          domain.Trade
		outcome    int32
		side       string
		collateral string
		tokens     string
		fee        string
		actor      string
	)
	err := row.Scan(&t.ID, &t.MarketID, &outcome, &side, &collateral, &tokens, &fee, &actor, &t.CreatedAt)
	if err != nil {
		return domain.Trade{}, err
	}

	t.Outcome = int(outcome)
	t.Side = domain.TradeSide(side)
	if t.CollateralAmount, err = parseAmount(collateral); err != nil {
		return domain.Trade{}, fmt.Errorf("collateral_amount: %w", err)
	}
	if t.TokenAmount, err = parseAmount(tokens); err != nil {
		return domain.Trade{}, fmt.Errorf("token_amount: %w", err)
	}
	if t.Fee, err = parseAmount(fee); err != nil {
		return domain.Trade{}, fmt.Errorf("fee: %w", err)
	}
	t.Actor = common.HexToAddress(actor)
	return t, nil
}
