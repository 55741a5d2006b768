package amm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcomelab/ammd/internal/domain"
	"github.com/outcomelab/ammd/internal/fixedpoint"
)

// deadShareHolder owns the permanently locked bootstrap shares. Nobody holds
// the zero address, so the shares can never be redeemed.
var deadShareHolder = common.Address{}

// LiquidityLedger tracks LP shares against one pool. Deposits mint shares
// against the pool's full collateral value; withdrawals redeem against the
// collateral net of the reserved amount, so an exiting LP can never pull out
// collateral the pool still owes to open positions. Not goroutine-safe; the
// owning market serializes access.
type LiquidityLedger struct {
	pool *Pool
	// reserved returns collateral that withdrawals must leave in the pool,
	// typically the market's worst-case settlement obligations. nil means
	// nothing is reserved.
	reserved    func() *big.Int
	balances    map[common.Address]*big.Int
	totalSupply *big.Int
}

// NewLiquidityLedger creates an empty ledger bound to pool.
func NewLiquidityLedger(pool *Pool, reserved func() *big.Int) *LiquidityLedger {
	return &LiquidityLedger{
		pool:        pool,
		reserved:    reserved,
		balances:    make(map[common.Address]*big.Int),
		totalSupply: new(big.Int),
	}
}

// Bootstrap mints the first provider's shares at 1:1 against the initial
// collateral, minus MinLiquidity dead shares locked forever. Called exactly
// once, right after Pool.Init with the same amount.
func (l *LiquidityLedger) Bootstrap(provider common.Address, amount *big.Int) (*big.Int, error) {
	if l.totalSupply.Sign() != 0 {
		return nil, domain.ErrAlreadyInitialized
	}
	if !fixedpoint.InRange(amount) || amount.Cmp(MinLiquidity) <= 0 {
		return nil, domain.ErrInsufficientLiquidity
	}

	minted := new(big.Int).Sub(amount, MinLiquidity)
	l.credit(deadShareHolder, MinLiquidity)
	l.credit(provider, minted)
	l.totalSupply.Set(amount)
	return new(big.Int).Set(minted), nil
}

// Add deposits collateral and mints shares at the current share price:
// minted = amount * totalSupply / poolValue, floor-rounded so the pool keeps
// the rounding dust. The pool's reserves scale up proportionally, leaving
// prices unchanged.
func (l *LiquidityLedger) Add(provider common.Address, amount, minSharesOut *big.Int) (*big.Int, error) {
	if l.totalSupply.Sign() == 0 {
		return nil, domain.ErrInsufficientLiquidity
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.ErrZeroAmount
	}

	minted, err := fixedpoint.MulDiv(amount, l.totalSupply, l.pool.Value())
	if err != nil {
		return nil, err
	}
	if minted.Sign() == 0 {
		return nil, domain.ErrZeroAmount
	}
	if minSharesOut != nil && minted.Cmp(minSharesOut) < 0 {
		return nil, domain.ErrSlippageExceeded
	}

	if err := l.pool.ScaleUp(amount); err != nil {
		return nil, err
	}
	l.credit(provider, minted)
	l.totalSupply.Add(l.totalSupply, minted)
	return new(big.Int).Set(minted), nil
}

// Remove burns shares and withdraws the proportional slice of withdrawable
// pool value: out = shares * (poolValue - reserved) / totalSupply,
// floor-rounded. The pool's reserves scale down proportionally. Fails with
// ErrInsufficientLiquidity when reserved obligations leave nothing to
// withdraw for the given shares.
func (l *LiquidityLedger) Remove(provider common.Address, shares, minCollateralOut *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, domain.ErrZeroAmount
	}
	bal, ok := l.balances[provider]
	if !ok || bal.Cmp(shares) < 0 {
		return nil, domain.ErrInsufficientLPTokens
	}

	free := l.pool.Value()
	if l.reserved != nil {
		free.Sub(free, l.reserved())
		if free.Sign() < 0 {
			free.SetInt64(0)
		}
	}
	out, err := fixedpoint.MulDiv(shares, free, l.totalSupply)
	if err != nil {
		return nil, err
	}
	if out.Sign() == 0 {
		return nil, domain.ErrInsufficientLiquidity
	}
	if minCollateralOut != nil && out.Cmp(minCollateralOut) < 0 {
		return nil, domain.ErrSlippageExceeded
	}

	if err := l.pool.ScaleDown(out); err != nil {
		return nil, err
	}
	bal.Sub(bal, shares)
	if bal.Sign() == 0 {
		delete(l.balances, provider)
	}
	l.totalSupply.Sub(l.totalSupply, shares)
	return out, nil
}

// BalanceOf returns provider's share balance. Never nil.
func (l *LiquidityLedger) BalanceOf(provider common.Address) *big.Int {
	if v, ok := l.balances[provider]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// TotalSupply returns the outstanding share supply, dead shares included.
func (l *LiquidityLedger) TotalSupply() *big.Int {
	return new(big.Int).Set(l.totalSupply)
}

func (l *LiquidityLedger) credit(holder common.Address, amount *big.Int) {
	cur, ok := l.balances[holder]
	if !ok {
		cur = new(big.Int)
		l.balances[holder] = cur
	}
	cur.Add(cur, amount)
}
