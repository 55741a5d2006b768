// Package amm implements the outcome AMM: per-market reserve state and
// pricing, LP share accounting, the market lifecycle state machine,
// post-resolution settlement, and the trade router that callers go through.
//
// The pricing function is an N-outcome constant-product market maker: the
// product of all outcome reserves is invariant under trades. Buying outcome i
// adds the fee-net collateral to every reserve and pays out outcome-i tokens
// until the product is restored; the instantaneous price of outcome i is the
// product of the other reserves normalized over all such products, which sums
// to one across the outcome set.
package amm

import (
	"math/big"

	"github.com/outcomelab/ammd/internal/domain"
	"github.com/outcomelab/ammd/internal/fixedpoint"
)

const (
	// MinOutcomes and MaxOutcomes bound the outcome set of a single market.
	MinOutcomes = 2
	MaxOutcomes = 8

	// DefaultFeeBps is the protocol fee applied to trades when the market
	// creator does not override it: 100 bps = 1%.
	DefaultFeeBps uint32 = 100
)

// MinLiquidity is the dead-share floor: the first liquidity provider's mint
// is reduced by this amount, permanently locking it in the pool to deter
// first-depositor dust attacks.
var MinLiquidity = big.NewInt(1_000)

// Pool holds the reserve state of one market and executes buys and sells
// against it. All amounts are 18-decimal base units. Pool is not
// goroutine-safe; the owning market's writer lock serializes mutation.
type Pool struct {
	n            int
	feeBps       uint32
	reserves     []*big.Int
	collateral   *big.Int
	protocolFees *big.Int
}

// NewPool creates an uninitialized pool with the given trade fee.
func NewPool(feeBps uint32) *Pool {
	return &Pool{
		feeBps:       feeBps,
		collateral:   new(big.Int),
		protocolFees: new(big.Int),
	}
}

// Init seeds the pool. With a nil distribution every outcome reserve is
// seeded with the full initial collateral, giving each outcome an initial
// price of 1/N. An explicit distribution of len(outcomes) reserves may be
// passed instead for a skewed launch.
func (p *Pool) Init(outcomes int, initialCollateral *big.Int, distribution []*big.Int) error {
	if p.reserves != nil {
		return domain.ErrAlreadyInitialized
	}
	if outcomes < MinOutcomes || outcomes > MaxOutcomes {
		return domain.ErrInvalidOutcomeCount
	}
	if !fixedpoint.InRange(initialCollateral) || initialCollateral.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	if initialCollateral.Cmp(MinLiquidity) <= 0 {
		return domain.ErrInsufficientLiquidity
	}

	reserves := make([]*big.Int, outcomes)
	if distribution == nil {
		for i := range reserves {
			reserves[i] = new(big.Int).Set(initialCollateral)
		}
	} else {
		if len(distribution) != outcomes {
			return domain.ErrInvalidOutcomeCount
		}
		for i, r := range distribution {
			if !fixedpoint.InRange(r) || r.Sign() <= 0 {
				return domain.ErrZeroAmount
			}
			reserves[i] = new(big.Int).Set(r)
		}
	}

	p.n = outcomes
	p.reserves = reserves
	p.collateral = new(big.Int).Set(initialCollateral)
	return nil
}

// NumOutcomes returns the size of the outcome set.
func (p *Pool) NumOutcomes() int { return p.n }

// FeeBps returns the protocol fee in basis points.
func (p *Pool) FeeBps() uint32 { return p.feeBps }

// Collateral returns the pool's collateral balance, excluding accrued
// protocol fees.
func (p *Pool) Collateral() *big.Int { return new(big.Int).Set(p.collateral) }

// ProtocolFees returns the cumulative protocol fees accrued by this pool.
// Fees are not returned to LPs.
func (p *Pool) ProtocolFees() *big.Int { return new(big.Int).Set(p.protocolFees) }

// Value is the pool value LP shares are priced against: the collateral
// balance at current reserves.
func (p *Pool) Value() *big.Int { return new(big.Int).Set(p.collateral) }

// Reserves returns a copy of the reserve vector.
func (p *Pool) Reserves() []*big.Int {
	out := make([]*big.Int, len(p.reserves))
	for i, r := range p.reserves {
		out[i] = new(big.Int).Set(r)
	}
	return out
}

// Price returns the instantaneous price of one outcome, fixed-point scaled
// so that the full outcome set partitions 1*Scale of probability mass.
func (p *Pool) Price(outcome int) (*big.Int, error) {
	prices, err := p.Prices()
	if err != nil {
		return nil, err
	}
	if outcome < 0 || outcome >= p.n {
		return nil, domain.ErrInvalidOutcome
	}
	return prices[outcome], nil
}

// Prices returns the full price partition: price_i is the product of all
// reserves except i, normalized over the sum of such products. Floor
// rounding loses at most one unit per outcome against the exact partition.
func (p *Pool) Prices() ([]*big.Int, error) {
	if p.reserves == nil {
		return nil, domain.ErrInsufficientLiquidity
	}

	others := make([]*big.Int, p.n)
	sum := new(big.Int)
	for i := range p.reserves {
		prod, err := fixedpoint.ProdExcept(p.reserves, i)
		if err != nil {
			return nil, err
		}
		others[i] = prod
		sum.Add(sum, prod)
	}
	if sum.Sign() == 0 {
		return nil, domain.ErrInsufficientLiquidity
	}

	prices := make([]*big.Int, p.n)
	for i, prod := range others {
		px := new(big.Int).Mul(prod, fixedpoint.Scale)
		px.Quo(px, sum)
		prices[i] = px
	}
	return prices, nil
}

// QuoteBuy quotes the outcome tokens received for collateralIn, net of the
// protocol fee. It is a pure function of the current reserves and is the
// exact computation buys execute, so a quote is a true bound once slippage
// tolerance is applied.
func (p *Pool) QuoteBuy(outcome int, collateralIn *big.Int) (tokensOut, fee *big.Int, err error) {
	if err := p.checkTradeArgs(outcome, collateralIn); err != nil {
		return nil, nil, err
	}

	fee, err = fixedpoint.Bps(collateralIn, p.feeBps)
	if err != nil {
		return nil, nil, err
	}
	net := new(big.Int).Sub(collateralIn, fee)
	if net.Sign() <= 0 {
		return nil, nil, domain.ErrZeroAmount
	}

	prodAll, err := fixedpoint.Prod(p.reserves)
	if err != nil {
		return nil, nil, err
	}

	// Every reserve grows by the net collateral; the end reserve of the
	// bought outcome restores the product invariant. Rounding the end
	// reserve up keeps the loss with the trader, never the pool.
	denom := big.NewInt(1)
	for i, r := range p.reserves {
		if i == outcome {
			continue
		}
		grown := new(big.Int).Add(r, net)
		if !fixedpoint.InRange(grown) {
			return nil, nil, domain.ErrArithmeticOverflow
		}
		denom.Mul(denom, grown)
	}
	endReserve := ceilDiv(prodAll, denom)

	tokensOut = new(big.Int).Add(p.reserves[outcome], net)
	tokensOut.Sub(tokensOut, endReserve)
	if tokensOut.Sign() < 0 {
		tokensOut.SetInt64(0)
	}
	if !fixedpoint.InRange(tokensOut) {
		return nil, nil, domain.ErrArithmeticOverflow
	}
	return tokensOut, fee, nil
}

// QuoteSell quotes the collateral received for tokenIn of an outcome, net of
// the protocol fee. The gross amount is the largest withdrawal that keeps
// the product invariant satisfied, found by integer bisection; floor
// behavior guarantees quoteSell(quoteBuy(c)) <= c.
func (p *Pool) QuoteSell(outcome int, tokenIn *big.Int) (collateralOut, fee *big.Int, err error) {
	gross, err := p.quoteSellGross(outcome, tokenIn)
	if err != nil {
		return nil, nil, err
	}
	fee, err = fixedpoint.Bps(gross, p.feeBps)
	if err != nil {
		return nil, nil, err
	}
	collateralOut = new(big.Int).Sub(gross, fee)
	return collateralOut, fee, nil
}

// quoteSellGross finds the largest c such that returning tokenIn of the
// outcome and draining c from every reserve keeps the reserve product at or
// above its pre-trade value.
func (p *Pool) quoteSellGross(outcome int, tokenIn *big.Int) (*big.Int, error) {
	if err := p.checkTradeArgs(outcome, tokenIn); err != nil {
		return nil, err
	}

	prodAll, err := fixedpoint.Prod(p.reserves)
	if err != nil {
		return nil, err
	}

	// The withdrawal is bounded by the smallest other reserve (reserves
	// must stay positive), the seller's returned tokens plus the bought
	// reserve, and the collateral actually held.
	hi := new(big.Int).Set(p.collateral)
	for i, r := range p.reserves {
		if i == outcome {
			continue
		}
		bound := new(big.Int).Sub(r, big.NewInt(1))
		if bound.Cmp(hi) < 0 {
			hi.Set(bound)
		}
	}
	inFlow := new(big.Int).Add(p.reserves[outcome], tokenIn)
	if inFlow.Cmp(hi) < 0 {
		hi.Set(inFlow)
	}
	if hi.Sign() < 0 {
		hi.SetInt64(0)
	}

	feasible := func(c *big.Int) bool {
		lhs := new(big.Int).Sub(inFlow, c)
		if lhs.Sign() <= 0 {
			return false
		}
		for i, r := range p.reserves {
			if i == outcome {
				continue
			}
			lhs.Mul(lhs, new(big.Int).Sub(r, c))
		}
		return lhs.Cmp(prodAll) >= 0
	}

	lo := new(big.Int)
	for lo.Cmp(hi) < 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Add(mid, big.NewInt(1))
		mid.Rsh(mid, 1)
		if feasible(mid) {
			lo.Set(mid)
		} else {
			hi.Sub(mid, big.NewInt(1))
		}
	}
	return lo, nil
}

// ApplyBuy executes a buy: it quotes, enforces the caller's minimum output,
// and commits the reserve update and fee accrual as one step. Either the
// full update happens or none of it does. Returns the tokens paid out and
// the fee withheld.
func (p *Pool) ApplyBuy(outcome int, collateralIn, minTokensOut *big.Int) (tokensOut, fee *big.Int, err error) {
	tokensOut, fee, err = p.QuoteBuy(outcome, collateralIn)
	if err != nil {
		return nil, nil, err
	}
	if minTokensOut != nil && tokensOut.Cmp(minTokensOut) < 0 {
		return nil, nil, domain.ErrSlippageExceeded
	}

	net := new(big.Int).Sub(collateralIn, fee)
	next := make([]*big.Int, p.n)
	for i, r := range p.reserves {
		if i == outcome {
			grown := new(big.Int).Add(r, net)
			next[i] = grown.Sub(grown, tokensOut)
		} else {
			next[i] = new(big.Int).Add(r, net)
		}
	}

	p.reserves = next
	p.collateral.Add(p.collateral, net)
	p.protocolFees.Add(p.protocolFees, fee)
	return tokensOut, fee, nil
}

// ApplySell executes a sell: quote, minimum-output check, then a single
// commit. The pool never pays out more collateral than it holds. Returns the
// collateral paid out net of the fee, and the fee itself.
func (p *Pool) ApplySell(outcome int, tokenIn, minCollateralOut *big.Int) (collateralOut, fee *big.Int, err error) {
	gross, err := p.quoteSellGross(outcome, tokenIn)
	if err != nil {
		return nil, nil, err
	}
	fee, err = fixedpoint.Bps(gross, p.feeBps)
	if err != nil {
		return nil, nil, err
	}
	collateralOut = new(big.Int).Sub(gross, fee)

	if minCollateralOut != nil && collateralOut.Cmp(minCollateralOut) < 0 {
		return nil, nil, domain.ErrSlippageExceeded
	}
	if gross.Cmp(p.collateral) > 0 {
		return nil, nil, domain.ErrInsufficientLiquidity
	}

	next := make([]*big.Int, p.n)
	for i, r := range p.reserves {
		if i == outcome {
			back := new(big.Int).Add(r, tokenIn)
			next[i] = back.Sub(back, gross)
		} else {
			next[i] = new(big.Int).Sub(r, gross)
		}
	}

	p.reserves = next
	p.collateral.Sub(p.collateral, gross)
	p.protocolFees.Add(p.protocolFees, fee)
	return collateralOut, fee, nil
}

// ScaleUp grows the pool by a liquidity deposit, scaling every reserve so
// prices are unchanged.
func (p *Pool) ScaleUp(amount *big.Int) error {
	if p.reserves == nil {
		return domain.ErrInsufficientLiquidity
	}
	if !fixedpoint.InRange(amount) || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}

	value := p.collateral
	grown := new(big.Int).Add(value, amount)
	next := make([]*big.Int, p.n)
	for i, r := range p.reserves {
		nr, err := fixedpoint.MulDiv(r, grown, value)
		if err != nil {
			return err
		}
		next[i] = nr
	}

	p.reserves = next
	p.collateral.Add(p.collateral, amount)
	return nil
}

// ScaleDown shrinks the pool by a liquidity withdrawal, scaling reserves
// down proportionally. Reserves are floored at one unit so the pricing
// function stays defined.
func (p *Pool) ScaleDown(amount *big.Int) error {
	if p.reserves == nil {
		return domain.ErrInsufficientLiquidity
	}
	if !fixedpoint.InRange(amount) || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	if amount.Cmp(p.collateral) > 0 {
		return domain.ErrInsufficientLiquidity
	}

	value := p.collateral
	shrunk := new(big.Int).Sub(value, amount)
	next := make([]*big.Int, p.n)
	for i, r := range p.reserves {
		nr, err := fixedpoint.MulDiv(r, shrunk, value)
		if err != nil {
			return err
		}
		if nr.Sign() == 0 {
			nr.SetInt64(1)
		}
		next[i] = nr
	}

	p.reserves = next
	p.collateral.Sub(p.collateral, amount)
	return nil
}

// PayOut draws settlement payouts straight from collateral. Reserves are not
// touched: a resolved pool no longer prices trades.
func (p *Pool) PayOut(amount *big.Int) error {
	if !fixedpoint.InRange(amount) || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	if amount.Cmp(p.collateral) > 0 {
		return domain.ErrInsufficientLiquidity
	}
	p.collateral.Sub(p.collateral, amount)
	return nil
}

func (p *Pool) checkTradeArgs(outcome int, amount *big.Int) error {
	if p.reserves == nil {
		return domain.ErrInsufficientLiquidity
	}
	if outcome < 0 || outcome >= p.n {
		return domain.ErrInvalidOutcome
	}
	if amount == nil || amount.Sign() == 0 {
		return domain.ErrZeroAmount
	}
	if !fixedpoint.InRange(amount) {
		return domain.ErrArithmeticOverflow
	}
	return nil
}

// ceilDiv divides unbounded intermediates rounding up.
func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
