package amm

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/outcomelab/ammd/internal/domain"
	"github.com/outcomelab/ammd/internal/fixedpoint"
)

const (
	// DefaultSlippageBps is the protection applied when the caller supplies
	// no explicit minimum output: 500 bps = 5% below the quote.
	DefaultSlippageBps uint32 = 500

	// DefaultDeadline is the validity window applied when the caller supplies
	// no explicit deadline.
	DefaultDeadline = time.Hour
)

// Router fronts every market mutation with the user-protection layer:
// deadlines, slippage defaults, and the append-only trade records the
// read-model consumes. The clock is injectable so deadline behavior is
// testable without sleeping.
type Router struct {
	slippageBps uint32
	deadline    time.Duration
	clock       func() time.Time
	settle      *SettlementEngine
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithSlippageBps overrides the default slippage tolerance.
func WithSlippageBps(bps uint32) RouterOption {
	return func(r *Router) { r.slippageBps = bps }
}

// WithDeadline overrides the default order validity window.
func WithDeadline(d time.Duration) RouterOption {
	return func(r *Router) { r.deadline = d }
}

// WithClock overrides the router's time source.
func WithClock(clock func() time.Time) RouterOption {
	return func(r *Router) { r.clock = clock }
}

// NewRouter builds a router with the default protections applied.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		slippageBps: DefaultSlippageBps,
		deadline:    DefaultDeadline,
		clock:       time.Now,
		settle:      NewSettlementEngine(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the router's current time.
func (r *Router) Now() time.Time { return r.clock() }

// Buy executes a buy through the protection layer and returns its trade
// record. A nil minTokensOut is filled from a fresh quote lowered by the
// default slippage tolerance; a zero deadline gets the default window.
func (r *Router) Buy(m *Market, trader common.Address, outcome int, collateralIn, minTokensOut *big.Int, deadline time.Time) (domain.Trade, error) {
	now := r.clock()
	if err := r.checkDeadline(now, deadline); err != nil {
		return domain.Trade{}, err
	}
	if minTokensOut == nil {
		quoted, _, err := m.QuoteBuy(outcome, collateralIn)
		if err != nil {
			return domain.Trade{}, err
		}
		minTokensOut, err = fixedpoint.WithSlippage(quoted, r.slippageBps)
		if err != nil {
			return domain.Trade{}, err
		}
	}

	tokensOut, fee, err := m.Buy(trader, outcome, collateralIn, minTokensOut, now)
	if err != nil {
		return domain.Trade{}, err
	}
	return domain.Trade{
		ID:               uuid.NewString(),
		MarketID:         m.ID(),
		Outcome:          outcome,
		Side:             domain.TradeBuy,
		CollateralAmount: new(big.Int).Set(collateralIn),
		TokenAmount:      tokensOut,
		Fee:              fee,
		Actor:            trader,
		CreatedAt:        now,
	}, nil
}

// Sell executes a sell through the protection layer and returns its trade
// record.
func (r *Router) Sell(m *Market, trader common.Address, outcome int, tokenIn, minCollateralOut *big.Int, deadline time.Time) (domain.Trade, error) {
	now := r.clock()
	if err := r.checkDeadline(now, deadline); err != nil {
		return domain.Trade{}, err
	}
	if minCollateralOut == nil {
		quoted, _, err := m.QuoteSell(outcome, tokenIn)
		if err != nil {
			return domain.Trade{}, err
		}
		minCollateralOut, err = fixedpoint.WithSlippage(quoted, r.slippageBps)
		if err != nil {
			return domain.Trade{}, err
		}
	}

	collateralOut, fee, err := m.Sell(trader, outcome, tokenIn, minCollateralOut, now)
	if err != nil {
		return domain.Trade{}, err
	}
	// Record the gross collateral leaving the curve so the trade log accrues
	// fees symmetrically with buys; the trader received gross minus fee.
	gross := new(big.Int).Add(collateralOut, fee)
	return domain.Trade{
		ID:               uuid.NewString(),
		MarketID:         m.ID(),
		Outcome:          outcome,
		Side:             domain.TradeSell,
		CollateralAmount: gross,
		TokenAmount:      new(big.Int).Set(tokenIn),
		Fee:              fee,
		Actor:            trader,
		CreatedAt:        now,
	}, nil
}

// AddLiquidity deposits collateral for LP shares under the deadline check.
func (r *Router) AddLiquidity(m *Market, provider common.Address, amount, minSharesOut *big.Int, deadline time.Time) (*big.Int, error) {
	now := r.clock()
	if err := r.checkDeadline(now, deadline); err != nil {
		return nil, err
	}
	return m.AddLiquidity(provider, amount, minSharesOut, now)
}

// RemoveLiquidity burns LP shares for collateral under the deadline check.
func (r *Router) RemoveLiquidity(m *Market, provider common.Address, shares, minCollateralOut *big.Int, deadline time.Time) (*big.Int, error) {
	now := r.clock()
	if err := r.checkDeadline(now, deadline); err != nil {
		return nil, err
	}
	return m.RemoveLiquidity(provider, shares, minCollateralOut, now)
}

// Resolve moves a market to its terminal state at the router's clock.
func (r *Router) Resolve(m *Market, res domain.Resolution) error {
	return m.Resolve(res, r.clock())
}

// Claim settles holder's positions in a resolved market.
func (r *Router) Claim(m *Market, holder common.Address) (*big.Int, error) {
	return r.settle.Claim(m, holder)
}

// EstimatePayout previews holder's settlement payout.
func (r *Router) EstimatePayout(m *Market, holder common.Address) (*big.Int, error) {
	return r.settle.EstimatePayout(m, holder)
}

func (r *Router) checkDeadline(now, deadline time.Time) error {
	if deadline.IsZero() {
		return nil
	}
	if now.After(deadline) {
		return domain.ErrDeadlineExpired
	}
	return nil
}
