package amm

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcomelab/ammd/internal/domain"
	"github.com/outcomelab/ammd/internal/ledger"
)

// MarketConfig carries everything needed to open a market.
type MarketConfig struct {
	ID                string
	Question          string
	Outcomes          []string
	EndTime           time.Time
	FeeBps            uint32
	Creator           common.Address
	InitialCollateral *big.Int
	// Distribution optionally seeds skewed initial reserves; nil seeds every
	// outcome equally at 1/N.
	Distribution []*big.Int
}

// Market is the lifecycle state machine for one prediction market: pool
// reserves, LP shares, outcome-token balances and the one-shot resolution.
// Market is not goroutine-safe; the service layer holds a per-market lock.
type Market struct {
	id        string
	question  string
	outcomes  []string
	endTime   time.Time
	createdAt time.Time
	updatedAt time.Time

	resolution domain.Resolution

	pool *Pool
	lp   *LiquidityLedger
	book *ledger.Book
}

// NewMarket opens a market: validates the configuration, seeds the pool and
// mints the creator's bootstrap LP shares.
func NewMarket(cfg MarketConfig, now time.Time) (*Market, error) {
	if strings.TrimSpace(cfg.ID) == "" || strings.TrimSpace(cfg.Question) == "" {
		return nil, fmt.Errorf("amm: new market: missing id or question")
	}
	if len(cfg.Outcomes) < MinOutcomes || len(cfg.Outcomes) > MaxOutcomes {
		return nil, domain.ErrInvalidOutcomeCount
	}
	for _, name := range cfg.Outcomes {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("amm: new market: empty outcome name")
		}
	}
	if !cfg.EndTime.After(now) {
		return nil, fmt.Errorf("amm: new market: end time not in the future")
	}
	feeBps := cfg.FeeBps
	if feeBps == 0 {
		feeBps = DefaultFeeBps
	}

	pool := NewPool(feeBps)
	if err := pool.Init(len(cfg.Outcomes), cfg.InitialCollateral, cfg.Distribution); err != nil {
		return nil, err
	}

	m := &Market{
		id:        cfg.ID,
		question:  cfg.Question,
		outcomes:  append([]string(nil), cfg.Outcomes...),
		endTime:   cfg.EndTime,
		createdAt: now,
		updatedAt: now,
		pool:      pool,
		book:      ledger.NewBook(),
	}
	// Liquidity withdrawals must leave the settlement obligations funded.
	m.lp = NewLiquidityLedger(pool, m.obligations)
	if _, err := m.lp.Bootstrap(cfg.Creator, cfg.InitialCollateral); err != nil {
		return nil, err
	}
	return m, nil
}

// obligations is the collateral the pool must retain to honor every
// outstanding outcome-token claim. Before resolution any outcome could win,
// so the bound is the largest outstanding supply; after resolution only the
// actual payout schedule is reserved, freeing the rest for LP exits.
func (m *Market) obligations() *big.Int {
	switch m.resolution.State {
	case domain.ResolvedValid:
		return m.book.TotalSupply(m.OutcomeToken(m.resolution.Winner))
	case domain.ResolvedInvalid:
		sum := new(big.Int)
		for i := range m.outcomes {
			sum.Add(sum, m.book.TotalSupply(m.OutcomeToken(i)))
		}
		return ceilDiv(sum, big.NewInt(int64(len(m.outcomes))))
	default:
		worst := new(big.Int)
		for i := range m.outcomes {
			if s := m.book.TotalSupply(m.OutcomeToken(i)); s.Cmp(worst) > 0 {
				worst = s
			}
		}
		return worst
	}
}

// ID returns the market identifier.
func (m *Market) ID() string { return m.id }

// EndTime returns the trading cutoff used by resolution.
func (m *Market) EndTime() time.Time { return m.endTime }

// NumOutcomes returns the size of the outcome set.
func (m *Market) NumOutcomes() int { return len(m.outcomes) }

// Resolution returns the market's resolution state.
func (m *Market) Resolution() domain.Resolution { return m.resolution }

// Resolved reports whether the market has reached a terminal state.
func (m *Market) Resolved() bool { return m.resolution.State != domain.Unresolved }

// OutcomeToken returns the ledger token identifying one outcome's position.
func (m *Market) OutcomeToken(outcome int) ledger.TokenID {
	return ledger.TokenID(fmt.Sprintf("%s:%d", m.id, outcome))
}

// Balance returns holder's position in one outcome.
func (m *Market) Balance(holder common.Address, outcome int) *big.Int {
	return m.book.BalanceOf(m.OutcomeToken(outcome), holder)
}

// LPBalance returns provider's LP share balance.
func (m *Market) LPBalance(provider common.Address) *big.Int {
	return m.lp.BalanceOf(provider)
}

// Prices returns the current price partition.
func (m *Market) Prices() ([]*big.Int, error) { return m.pool.Prices() }

// QuoteBuy quotes a buy without executing it.
func (m *Market) QuoteBuy(outcome int, collateralIn *big.Int) (tokensOut, fee *big.Int, err error) {
	if m.Resolved() {
		return nil, nil, domain.ErrMarketResolved
	}
	return m.pool.QuoteBuy(outcome, collateralIn)
}

// QuoteSell quotes a sell without executing it.
func (m *Market) QuoteSell(outcome int, tokenIn *big.Int) (collateralOut, fee *big.Int, err error) {
	if m.Resolved() {
		return nil, nil, domain.ErrMarketResolved
	}
	return m.pool.QuoteSell(outcome, tokenIn)
}

// Buy swaps collateral for outcome tokens and credits the trader's position.
// Returns the tokens credited and the protocol fee withheld.
func (m *Market) Buy(trader common.Address, outcome int, collateralIn, minTokensOut *big.Int, now time.Time) (tokensOut, fee *big.Int, err error) {
	if m.Resolved() {
		return nil, nil, domain.ErrMarketResolved
	}
	tokensOut, fee, err = m.pool.ApplyBuy(outcome, collateralIn, minTokensOut)
	if err != nil {
		return nil, nil, err
	}
	if err := m.book.Mint(m.OutcomeToken(outcome), trader, tokensOut); err != nil {
		return nil, nil, err
	}
	m.updatedAt = now
	return tokensOut, fee, nil
}

// Sell swaps outcome tokens back into collateral and debits the trader's
// position. The balance check precedes the pool mutation so a failed sell
// leaves the market untouched. Returns the collateral paid net of the fee,
// and the fee itself.
func (m *Market) Sell(trader common.Address, outcome int, tokenIn, minCollateralOut *big.Int, now time.Time) (collateralOut, fee *big.Int, err error) {
	if m.Resolved() {
		return nil, nil, domain.ErrMarketResolved
	}
	if outcome < 0 || outcome >= len(m.outcomes) {
		return nil, nil, domain.ErrInvalidOutcome
	}
	if tokenIn == nil || tokenIn.Sign() == 0 {
		return nil, nil, domain.ErrZeroAmount
	}
	if m.Balance(trader, outcome).Cmp(tokenIn) < 0 {
		return nil, nil, domain.ErrInsufficientBalance
	}
	collateralOut, fee, err = m.pool.ApplySell(outcome, tokenIn, minCollateralOut)
	if err != nil {
		return nil, nil, err
	}
	if err := m.book.Burn(m.OutcomeToken(outcome), trader, tokenIn); err != nil {
		return nil, nil, err
	}
	m.updatedAt = now
	return collateralOut, fee, nil
}

// AddLiquidity deposits collateral for LP shares. Rejected once the market
// is resolved.
func (m *Market) AddLiquidity(provider common.Address, amount, minSharesOut *big.Int, now time.Time) (*big.Int, error) {
	if m.Resolved() {
		return nil, domain.ErrMarketResolved
	}
	minted, err := m.lp.Add(provider, amount, minSharesOut)
	if err != nil {
		return nil, err
	}
	m.updatedAt = now
	return minted, nil
}

// RemoveLiquidity burns LP shares for collateral. Permitted after
// resolution so LPs can exit a settled market.
func (m *Market) RemoveLiquidity(provider common.Address, shares, minCollateralOut *big.Int, now time.Time) (*big.Int, error) {
	out, err := m.lp.Remove(provider, shares, minCollateralOut)
	if err != nil {
		return nil, err
	}
	m.updatedAt = now
	return out, nil
}

// Resolve moves the market into a terminal state. One-shot: a second call
// fails regardless of the requested state, and resolution before the end
// time is refused.
func (m *Market) Resolve(res domain.Resolution, now time.Time) error {
	if m.Resolved() {
		return domain.ErrMarketResolved
	}
	if now.Before(m.endTime) {
		return domain.ErrMarketNotEnded
	}
	switch res.State {
	case domain.ResolvedValid:
		if res.Winner < 0 || res.Winner >= len(m.outcomes) {
			return domain.ErrInvalidOutcome
		}
	case domain.ResolvedInvalid:
		res.Winner = 0
	default:
		return domain.ErrMarketNotResolved
	}
	m.resolution = res
	m.updatedAt = now
	return nil
}

// Snapshot projects the market into its read-model form.
func (m *Market) Snapshot() (domain.MarketSnapshot, error) {
	prices, err := m.pool.Prices()
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	return domain.MarketSnapshot{
		ID:           m.id,
		Question:     m.question,
		Outcomes:     append([]string(nil), m.outcomes...),
		FeeBps:       m.pool.FeeBps(),
		EndTime:      m.endTime,
		Resolution:   m.resolution,
		Reserves:     m.pool.Reserves(),
		Prices:       prices,
		Collateral:   m.pool.Collateral(),
		ProtocolFees: m.pool.ProtocolFees(),
		LPSupply:     m.lp.TotalSupply(),
		CreatedAt:    m.createdAt,
		UpdatedAt:    m.updatedAt,
	}, nil
}
