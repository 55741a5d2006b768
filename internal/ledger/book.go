// Package ledger implements the ERC20-style balance book the engine mutates
// through mint/burn/transfer primitives. It stands in for the token-balance
// storage an on-chain execution environment would provide; the engine only
// reads and writes aggregate balances, never a wallet-held secret.
package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcomelab/ammd/internal/domain"
)

// TokenID identifies one fungible token tracked by the book, e.g. the outcome
// tokens of a market.
type TokenID string

// Book tracks per-holder balances for any number of tokens. It is not
// goroutine-safe; the owning market's writer lock serializes access.
type Book struct {
	balances map[TokenID]map[common.Address]*big.Int
	supply   map[TokenID]*big.Int
}

// NewBook creates an empty balance book.
func NewBook() *Book {
	return &Book{
		balances: make(map[TokenID]map[common.Address]*big.Int),
		supply:   make(map[TokenID]*big.Int),
	}
}

// BalanceOf returns the holder's balance of token. Never nil.
func (b *Book) BalanceOf(token TokenID, holder common.Address) *big.Int {
	if m, ok := b.balances[token]; ok {
		if v, ok := m[holder]; ok {
			return new(big.Int).Set(v)
		}
	}
	return new(big.Int)
}

// TotalSupply returns the outstanding supply of token. Never nil.
func (b *Book) TotalSupply(token TokenID) *big.Int {
	if v, ok := b.supply[token]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Mint credits amount of token to holder.
func (b *Book) Mint(token TokenID, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrArithmeticOverflow
	}
	m, ok := b.balances[token]
	if !ok {
		m = make(map[common.Address]*big.Int)
		b.balances[token] = m
		b.supply[token] = new(big.Int)
	}
	cur, ok := m[holder]
	if !ok {
		cur = new(big.Int)
		m[holder] = cur
	}
	cur.Add(cur, amount)
	b.supply[token].Add(b.supply[token], amount)
	return nil
}

// Burn debits amount of token from holder. Fails with
// ErrInsufficientBalance when the holder does not have amount.
func (b *Book) Burn(token TokenID, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrArithmeticOverflow
	}
	m, ok := b.balances[token]
	if !ok {
		if amount.Sign() == 0 {
			return nil
		}
		return domain.ErrInsufficientBalance
	}
	cur, ok := m[holder]
	if !ok || cur.Cmp(amount) < 0 {
		if amount.Sign() == 0 {
			return nil
		}
		return domain.ErrInsufficientBalance
	}
	cur.Sub(cur, amount)
	b.supply[token].Sub(b.supply[token], amount)
	if cur.Sign() == 0 {
		delete(m, holder)
	}
	return nil
}

// Transfer moves amount of token between holders atomically.
func (b *Book) Transfer(token TokenID, from, to common.Address, amount *big.Int) error {
	if err := b.Burn(token, from, amount); err != nil {
		return err
	}
	return b.Mint(token, to, amount)
}

// Holders returns every address with a non-zero balance of token.
func (b *Book) Holders(token TokenID) []common.Address {
	m, ok := b.balances[token]
	if !ok {
		return nil
	}
	out := make([]common.Address, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	return out
}
