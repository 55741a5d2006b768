package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelab/ammd/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestBook_MintBurn(t *testing.T) {
	b := NewBook()
	tok := TokenID("m1:0")

	require.NoError(t, b.Mint(tok, alice, big.NewInt(100)))
	assert.Equal(t, big.NewInt(100), b.BalanceOf(tok, alice))
	assert.Equal(t, big.NewInt(100), b.TotalSupply(tok))

	require.NoError(t, b.Burn(tok, alice, big.NewInt(40)))
	assert.Equal(t, big.NewInt(60), b.BalanceOf(tok, alice))
	assert.Equal(t, big.NewInt(60), b.TotalSupply(tok))
}

func TestBook_BurnInsufficient(t *testing.T) {
	b := NewBook()
	tok := TokenID("m1:0")

	require.NoError(t, b.Mint(tok, alice, big.NewInt(10)))
	err := b.Burn(tok, alice, big.NewInt(11))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	// Failed burn leaves the balance untouched.
	assert.Equal(t, big.NewInt(10), b.BalanceOf(tok, alice))

	err = b.Burn(tok, bob, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestBook_Transfer(t *testing.T) {
	b := NewBook()
	tok := TokenID("m1:1")

	require.NoError(t, b.Mint(tok, alice, big.NewInt(50)))
	require.NoError(t, b.Transfer(tok, alice, bob, big.NewInt(20)))

	assert.Equal(t, big.NewInt(30), b.BalanceOf(tok, alice))
	assert.Equal(t, big.NewInt(20), b.BalanceOf(tok, bob))
	assert.Equal(t, big.NewInt(50), b.TotalSupply(tok))
}

func TestBook_BalanceOfIsACopy(t *testing.T) {
	b := NewBook()
	tok := TokenID("m1:0")

	require.NoError(t, b.Mint(tok, alice, big.NewInt(5)))
	bal := b.BalanceOf(tok, alice)
	bal.SetInt64(999)
	assert.Equal(t, big.NewInt(5), b.BalanceOf(tok, alice))
}

func TestBook_Holders(t *testing.T) {
	b := NewBook()
	tok := TokenID("m1:0")

	require.NoError(t, b.Mint(tok, alice, big.NewInt(1)))
	require.NoError(t, b.Mint(tok, bob, big.NewInt(2)))
	require.NoError(t, b.Burn(tok, alice, big.NewInt(1)))

	holders := b.Holders(tok)
	assert.Len(t, holders, 1)
	assert.Equal(t, bob, holders[0])
}
