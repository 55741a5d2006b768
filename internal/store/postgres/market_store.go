package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelab/ammd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

var _ domain.MarketStore = (*MarketStore)(nil)

const marketCols = `id, question, outcomes, fee_bps, end_time,
	resolution, winner, reserves, prices,
	collateral, protocol_fees, lp_supply, created_at, updated_at`

// Upsert inserts or overwrites a single market snapshot.
func (s *MarketStore) Upsert(ctx context.Context, m domain.MarketSnapshot) error {
	const query = `
		INSERT INTO markets (
			id, question, outcomes, fee_bps, end_time,
			resolution, winner, reserves, prices,
			collateral, protocol_fees, lp_supply, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)
		ON CONFLICT (id) DO UPDATE SET
			question      = EXCLUDED.question,
			outcomes      = EXCLUDED.outcomes,
			fee_bps       = EXCLUDED.fee_bps,
			end_time      = EXCLUDED.end_time,
			resolution    = EXCLUDED.resolution,
			winner        = EXCLUDED.winner,
			reserves      = EXCLUDED.reserves,
			prices        = EXCLUDED.prices,
			collateral    = EXCLUDED.collateral,
			protocol_fees = EXCLUDED.protocol_fees,
			lp_supply     = EXCLUDED.lp_supply,
			updated_at    = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Outcomes, int32(m.FeeBps), m.EndTime,
		m.Resolution.State.String(), int32(m.Resolution.Winner),
		encodeAmounts(m.Reserves), encodeAmounts(m.Prices),
		amountString(m.Collateral), amountString(m.ProtocolFees), amountString(m.LPSupply),
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market snapshot by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.MarketSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns market snapshots with pagination and optional time filtering,
// newest first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE TRUE`
	args := []any{}
	argIdx := 1

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

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketSnapshot
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

// ListResolvedBefore returns markets resolved with an end time before the
// given instant. The archiver uses this to find cold markets.
func (s *MarketStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.MarketSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE resolution <> 'unresolved' AND end_time < $1
		 ORDER BY end_time ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketSnapshot
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolved market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets rows: %w", err)
	}
	return out, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// scanMarket scans a single market row into a domain.MarketSnapshot.
func scanMarket(row pgx.Row) (domain.MarketSnapshot, error) {
	var (
		m          domain.MarketSnapshot
		feeBps     int32
		resolution string
		winner     int32
		reserves   []string
		prices     []string
		collateral string
		fees       string
		lpSupply   string
	)
	err := row.Scan(
		&m.ID, &m.Question, &m.Outcomes, &feeBps, &m.EndTime,
		&resolution, &winner, &reserves, &prices,
		&collateral, &fees, &lpSupply, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	m.FeeBps = uint32(feeBps)
	m.Resolution = decodeResolution(resolution, int(winner))
	if m.Reserves, err = decodeAmounts(reserves); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("reserves: %w", err)
	}
	if m.Prices, err = decodeAmounts(prices); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("prices: %w", err)
	}
	if m.Collateral, err = parseAmount(collateral); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("collateral: %w", err)
	}
	if m.ProtocolFees, err = parseAmount(fees); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("protocol_fees: %w", err)
	}
	if m.LPSupply, err = parseAmount(lpSupply); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("lp_supply: %w", err)
	}
	return m, nil
}

func decodeResolution(state string, winner int) domain.Resolution {
	switch state {
	case domain.ResolvedValid.String():
		return domain.Resolution{State: domain.ResolvedValid, Winner: winner}
	case domain.ResolvedInvalid.String():
		return domain.Resolution{State: domain.ResolvedInvalid}
	default:
		return domain.Resolution{State: domain.Unresolved}
	}
}

// amountString renders a big.Int for a TEXT column; nil stores as zero.
func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed amount %q", s)
	}
	return v, nil
}

func encodeAmounts(vs []*big.Int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = amountString(v)
	}
	return out
}

func decodeAmounts(ss []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(ss))
	for i, s := range ss {
		v, err := parseAmount(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
