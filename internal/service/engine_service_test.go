package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelab/ammd/internal/amm"
	"github.com/outcomelab/ammd/internal/domain"
)

// ---------------------------------------------------------------------------
// In-memory fakes for the store, cache, and bus interfaces.
// ---------------------------------------------------------------------------

type memMarketStore struct {
	mu   sync.Mutex
	rows map[string]domain.MarketSnapshot
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{rows: make(map[string]domain.MarketSnapshot)}
}

func (s *memMarketStore) Upsert(_ context.Context, m domain.MarketSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[m.ID] = m
	return nil
}

func (s *memMarketStore) GetByID(_ context.Context, id string) (domain.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) List(_ context.Context, _ domain.ListOpts) ([]domain.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MarketSnapshot, 0, len(s.rows))
	for _, m := range s.rows {
		out = append(out, m)
	}
	return out, nil
}

func (s *memMarketStore) ListResolvedBefore(_ context.Context, before time.Time) ([]domain.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MarketSnapshot
	for _, m := range s.rows {
		if m.Resolution.State != domain.Unresolved && m.EndTime.Before(before) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

type memTradeStore struct {
	mu   sync.Mutex
	rows []domain.Trade
}

func (s *memTradeStore) Insert(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, t)
	return nil
}

func (s *memTradeStore) ListByMarket(_ context.Context, marketID string, _ domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.rows {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeStore) ListBefore(_ context.Context, marketID string, before time.Time) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.rows {
		if t.MarketID == marketID && t.CreatedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeStore) DeleteByMarket(_ context.Context, marketID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var n int64
	for _, t := range s.rows {
		if t.MarketID == marketID {
			n++
			continue
		}
		kept = append(kept, t)
	}
	s.rows = kept
	return n, nil
}

type memPriceCache struct {
	mu     sync.Mutex
	prices map[string][]*big.Int
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{prices: make(map[string][]*big.Int)}
}

func (c *memPriceCache) SetPrices(_ context.Context, marketID string, prices []*big.Int, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[marketID] = prices
	return nil
}

func (c *memPriceCache) GetPrices(_ context.Context, marketID string) ([]*big.Int, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[marketID]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	return p, time.Time{}, nil
}

type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{messages: make(map[string][][]byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

// ---------------------------------------------------------------------------

var (
	svcCreator = common.HexToAddress("0x0000000000000000000000000000000000000011")
	svcTrader  = common.HexToAddress("0x0000000000000000000000000000000000000022")
)

type svcFixture struct {
	svc    *EngineService
	store  *memMarketStore
	trades *memTradeStore
	prices *memPriceCache
	bus    *memBus
	now    time.Time
}

func newFixture(t *testing.T, locks domain.LockManager) *svcFixture {
	t.Helper()
	f := &svcFixture{
		store:  newMemMarketStore(),
		trades: &memTradeStore{},
		prices: newMemPriceCache(),
		bus:    newMemBus(),
		now:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	router := amm.NewRouter(amm.WithClock(func() time.Time { return f.now }))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewEngineService(router, f.store, f.trades, f.prices, locks, f.bus, logger)
	return f
}

func (f *svcFixture) createMarket(t *testing.T) domain.MarketSnapshot {
	t.Helper()
	snap, err := f.svc.CreateMarket(context.Background(), CreateMarketParams{
		Question:          "Does it ship?",
		Outcomes:          []string{"yes", "no"},
		EndTime:           f.now.Add(24 * time.Hour),
		FeeBps:            100,
		Creator:           svcCreator,
		InitialCollateral: big.NewInt(1_000_000),
	})
	require.NoError(t, err)
	return snap
}

func TestEngineService_CreateMarketPersistsAndPublishes(t *testing.T) {
	f := newFixture(t, nil)
	snap := f.createMarket(t)

	stored, err := f.store.GetByID(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, stored.ID)

	cached, _, err := f.prices.GetPrices(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	assert.Len(t, f.bus.messages[ChannelMarkets], 1)
}

func TestEngineService_BuyRecordsTradeAndEvents(t *testing.T) {
	f := newFixture(t, nil)
	snap := f.createMarket(t)

	trade, err := f.svc.Buy(context.Background(), TradeParams{
		MarketID: snap.ID,
		Trader:   svcTrader,
		Outcome:  0,
		Amount:   big.NewInt(50_000),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TradeBuy, trade.Side)

	logged, err := f.svc.ListTrades(context.Background(), snap.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, trade.ID, logged[0].ID)

	assert.Len(t, f.bus.messages[ChannelTrades], 1)
	assert.Len(t, f.bus.messages[ChannelPrices], 1)

	// The read-model snapshot reflects the trade.
	stored, err := f.store.GetByID(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_049_500), stored.Collateral)
}

func TestEngineService_UnknownMarket(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Buy(context.Background(), TradeParams{
		MarketID: "nope", Trader: svcTrader, Amount: big.NewInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = f.svc.Quote(context.Background(), "nope", domain.TradeBuy, 0, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = f.svc.Resolve(context.Background(), "nope", domain.Resolution{State: domain.ResolvedInvalid})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngineService_LockHeldBlocksMutations(t *testing.T) {
	f := newFixture(t, heldLock{})
	snap := f.createMarket(t)

	_, err := f.svc.Buy(context.Background(), TradeParams{
		MarketID: snap.ID, Trader: svcTrader, Outcome: 0, Amount: big.NewInt(1_000),
	})
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	// Reads stay available while the lock is held elsewhere.
	_, _, err = f.svc.Quote(context.Background(), snap.ID, domain.TradeBuy, 0, big.NewInt(1_000))
	assert.NoError(t, err)
}

func TestEngineService_ResolveAndClaimFlow(t *testing.T) {
	f := newFixture(t, nil)
	snap := f.createMarket(t)

	trade, err := f.svc.Buy(context.Background(), TradeParams{
		MarketID: snap.ID, Trader: svcTrader, Outcome: 0, Amount: big.NewInt(50_000),
	})
	require.NoError(t, err)

	// Resolution before the market end is refused.
	err = f.svc.Resolve(context.Background(), snap.ID, domain.Resolution{State: domain.ResolvedValid, Winner: 0})
	assert.ErrorIs(t, err, domain.ErrMarketNotEnded)

	f.now = snap.EndTime
	require.NoError(t, f.svc.Resolve(context.Background(), snap.ID,
		domain.Resolution{State: domain.ResolvedValid, Winner: 0}))

	est, err := f.svc.EstimatePayout(context.Background(), snap.ID, svcTrader)
	require.NoError(t, err)
	assert.Equal(t, trade.TokenAmount, est)

	paid, err := f.svc.Claim(context.Background(), snap.ID, svcTrader)
	require.NoError(t, err)
	assert.Equal(t, trade.TokenAmount, paid)

	_, err = f.svc.Claim(context.Background(), snap.ID, svcTrader)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	// The read-model sees the terminal state.
	stored, err := f.store.GetByID(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolvedValid, stored.Resolution.State)
}

func TestEngineService_GetMarketFallsBackToStore(t *testing.T) {
	f := newFixture(t, nil)

	// A market only present in the read-model (e.g. created by a previous
	// process) is still readable.
	require.NoError(t, f.store.Upsert(context.Background(), domain.MarketSnapshot{
		ID:         "cold-1",
		Question:   "archived?",
		Outcomes:   []string{"yes", "no"},
		Resolution: domain.Resolution{State: domain.ResolvedInvalid},
	}))

	snap, err := f.svc.GetMarket(context.Background(), "cold-1")
	require.NoError(t, err)
	assert.Equal(t, "cold-1", snap.ID)

	// But it cannot be traded.
	_, err = f.svc.Buy(context.Background(), TradeParams{
		MarketID: "cold-1", Trader: svcTrader, Amount: big.NewInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngineService_BalancesTrackPositions(t *testing.T) {
	f := newFixture(t, nil)
	snap := f.createMarket(t)

	trade, err := f.svc.Buy(context.Background(), TradeParams{
		MarketID: snap.ID, Trader: svcTrader, Outcome: 1, Amount: big.NewInt(10_000),
	})
	require.NoError(t, err)

	balances, lp, err := f.svc.Balances(context.Background(), snap.ID, svcTrader)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), balances[0])
	assert.Equal(t, trade.TokenAmount, balances[1])
	assert.Equal(t, big.NewInt(0), lp)

	_, lp, err = f.svc.Balances(context.Background(), snap.ID, svcCreator)
	require.NoError(t, err)
	assert.True(t, lp.Sign() > 0, "creator holds the bootstrap LP shares")
}
