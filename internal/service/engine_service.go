// Package service wires the in-memory trading engine to its surroundings:
// persistence of the read-model, price caching, distributed locking, and
// event publication. The engine itself is the source of truth for reserves
// and balances; PostgreSQL and Redis hold derived state only.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/outcomelab/ammd/internal/amm"
	"github.com/outcomelab/ammd/internal/domain"
)

// Pub/Sub channels carrying engine events.
const (
	ChannelTrades  = "ammd:trades"
	ChannelPrices  = "ammd:prices"
	ChannelMarkets = "ammd:markets"
)

// marketLockTTL bounds how long a crashed instance can hold a market's
// distributed lock.
const marketLockTTL = 10 * time.Second

// EngineService owns the live markets and serializes every mutation
// per-market: an in-process mutex for goroutines of this instance, plus an
// optional distributed lock so multi-instance deployments keep the
// single-writer discipline.
type EngineService struct {
	router *amm.Router

	mu      sync.RWMutex
	markets map[string]*marketEntry

	store  domain.MarketStore
	trades domain.TradeStore
	prices domain.PriceCache
	locks  domain.LockManager
	bus    domain.SignalBus
	logger *slog.Logger

	defaultFeeBps uint32
}

type marketEntry struct {
	mu     sync.Mutex
	market *amm.Market
}

// NewEngineService creates an EngineService. locks may be nil for
// single-instance deployments; every other dependency is required.
func NewEngineService(
	router *amm.Router,
	store domain.MarketStore,
	trades domain.TradeStore,
	prices domain.PriceCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	logger *slog.Logger,
) *EngineService {
	return &EngineService{
		router:  router,
		markets: make(map[string]*marketEntry),
		store:   store,
		trades:  trades,
		prices:  prices,
		locks:   locks,
		bus:     bus,
		logger:  logger,
	}
}

// CreateMarketParams carries the caller-supplied part of a new market.
type CreateMarketParams struct {
	Question          string
	Outcomes          []string
	EndTime           time.Time
	FeeBps            uint32
	Creator           common.Address
	InitialCollateral *big.Int
	Distribution      []*big.Int
}

// SetDefaultFeeBps sets the fee applied to markets created without an
// explicit fee. Call before serving requests.
func (s *EngineService) SetDefaultFeeBps(bps uint32) {
	s.defaultFeeBps = bps
}

// CreateMarket opens a new market, assigns its ID, and persists the first
// snapshot.
func (s *EngineService) CreateMarket(ctx context.Context, p CreateMarketParams) (domain.MarketSnapshot, error) {
	feeBps := p.FeeBps
	if feeBps == 0 {
		feeBps = s.defaultFeeBps
	}
	id := uuid.NewString()
	m, err := amm.NewMarket(amm.MarketConfig{
		ID:                id,
		Question:          p.Question,
		Outcomes:          p.Outcomes,
		EndTime:           p.EndTime,
		FeeBps:            feeBps,
		Creator:           p.Creator,
		InitialCollateral: p.InitialCollateral,
		Distribution:      p.Distribution,
	}, s.router.Now())
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("engine_service: create market: %w", err)
	}

	s.mu.Lock()
	s.markets[id] = &marketEntry{market: m}
	s.mu.Unlock()

	snap := s.syncReadModel(ctx, m)
	s.publishEvent(ctx, ChannelMarkets, marketEvent{Type: "market_created", Market: snap})

	s.logger.InfoContext(ctx, "engine_service: market created",
		slog.String("market_id", id),
		slog.Int("outcomes", m.NumOutcomes()),
	)
	return snap, nil
}

// GetMarket returns a market's current snapshot. Live markets are read from
// the engine; markets only present in the read-model (for example after a
// restart) are served from the store.
func (s *EngineService) GetMarket(ctx context.Context, id string) (domain.MarketSnapshot, error) {
	if entry, ok := s.entry(id); ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		snap, err := entry.market.Snapshot()
		if err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("engine_service: snapshot %s: %w", id, err)
		}
		return snap, nil
	}

	snap, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("engine_service: get market %q: %w", id, err)
	}
	return snap, nil
}

// ListMarkets returns market snapshots from the read-model.
func (s *EngineService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	out, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("engine_service: list markets: %w", err)
	}
	return out, nil
}

// ListTrades returns a market's trade log from the read-model.
func (s *EngineService) ListTrades(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	out, err := s.trades.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("engine_service: list trades %s: %w", marketID, err)
	}
	return out, nil
}

// Quote prices a prospective trade without executing it.
func (s *EngineService) Quote(ctx context.Context, marketID string, side domain.TradeSide, outcome int, amount *big.Int) (out, fee *big.Int, err error) {
	entry, ok := s.entry(marketID)
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	switch side {
	case domain.TradeSell:
		return entry.market.QuoteSell(outcome, amount)
	default:
		return entry.market.QuoteBuy(outcome, amount)
	}
}

// TradeParams carries one buy or sell request.
type TradeParams struct {
	MarketID string
	Trader   common.Address
	Outcome  int
	// Amount is collateral in for buys, outcome tokens in for sells.
	Amount *big.Int
	// MinOut is optional; nil derives a minimum from the live quote and the
	// router's slippage default.
	MinOut *big.Int
	// Deadline is optional; zero applies the router's default window.
	Deadline time.Time
}

// Buy executes a buy and returns its trade record.
func (s *EngineService) Buy(ctx context.Context, p TradeParams) (domain.Trade, error) {
	return s.trade(ctx, p, domain.TradeBuy)
}

// Sell executes a sell and returns its trade record.
func (s *EngineService) Sell(ctx context.Context, p TradeParams) (domain.Trade, error) {
	return s.trade(ctx, p, domain.TradeSell)
}

func (s *EngineService) trade(ctx context.Context, p TradeParams, side domain.TradeSide) (domain.Trade, error) {
	entry, ok := s.entry(p.MarketID)
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}

	unlock, err := s.acquireLock(ctx, p.MarketID)
	if err != nil {
		return domain.Trade{}, err
	}
	defer unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var trade domain.Trade
	if side == domain.TradeSell {
		trade, err = s.router.Sell(entry.market, p.Trader, p.Outcome, p.Amount, p.MinOut, p.Deadline)
	} else {
		trade, err = s.router.Buy(entry.market, p.Trader, p.Outcome, p.Amount, p.MinOut, p.Deadline)
	}
	if err != nil {
		return domain.Trade{}, err
	}

	s.persistTrade(ctx, trade)
	snap := s.syncReadModel(ctx, entry.market)
	s.publishEvent(ctx, ChannelTrades, tradeEvent{Type: "trade", Trade: trade})
	s.publishEvent(ctx, ChannelPrices, priceEvent{
		Type:     "prices",
		MarketID: snap.ID,
		Prices:   amountStrings(snap.Prices),
		At:       trade.CreatedAt,
	})
	return trade, nil
}

// LiquidityParams carries one liquidity add or remove request.
type LiquidityParams struct {
	MarketID string
	Provider common.Address
	// Amount is collateral for adds, LP shares for removes.
	Amount   *big.Int
	MinOut   *big.Int
	Deadline time.Time
}

// AddLiquidity deposits collateral for LP shares.
func (s *EngineService) AddLiquidity(ctx context.Context, p LiquidityParams) (*big.Int, error) {
	return s.liquidity(ctx, p, true)
}

// RemoveLiquidity burns LP shares for collateral.
func (s *EngineService) RemoveLiquidity(ctx context.Context, p LiquidityParams) (*big.Int, error) {
	return s.liquidity(ctx, p, false)
}

func (s *EngineService) liquidity(ctx context.Context, p LiquidityParams, add bool) (*big.Int, error) {
	entry, ok := s.entry(p.MarketID)
	if !ok {
		return nil, domain.ErrNotFound
	}

	unlock, err := s.acquireLock(ctx, p.MarketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var out *big.Int
	if add {
		out, err = s.router.AddLiquidity(entry.market, p.Provider, p.Amount, p.MinOut, p.Deadline)
	} else {
		out, err = s.router.RemoveLiquidity(entry.market, p.Provider, p.Amount, p.MinOut, p.Deadline)
	}
	if err != nil {
		return nil, err
	}

	s.syncReadModel(ctx, entry.market)
	return out, nil
}

// Resolve moves a market into a terminal state and announces it.
func (s *EngineService) Resolve(ctx context.Context, marketID string, res domain.Resolution) error {
	entry, ok := s.entry(marketID)
	if !ok {
		return domain.ErrNotFound
	}

	unlock, err := s.acquireLock(ctx, marketID)
	if err != nil {
		return err
	}
	defer unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := s.router.Resolve(entry.market, res); err != nil {
		return err
	}

	snap := s.syncReadModel(ctx, entry.market)
	s.publishEvent(ctx, ChannelMarkets, marketEvent{Type: "market_resolved", Market: snap})

	s.logger.InfoContext(ctx, "engine_service: market resolved",
		slog.String("market_id", marketID),
		slog.String("state", res.State.String()),
		slog.Int("winner", res.Winner),
	)
	return nil
}

// Claim settles a holder's positions in a resolved market.
func (s *EngineService) Claim(ctx context.Context, marketID string, holder common.Address) (*big.Int, error) {
	entry, ok := s.entry(marketID)
	if !ok {
		return nil, domain.ErrNotFound
	}

	unlock, err := s.acquireLock(ctx, marketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	payout, err := s.router.Claim(entry.market, holder)
	if err != nil {
		if errors.Is(err, domain.ErrNothingToClaim) {
			return payout, err
		}
		return nil, err
	}

	s.syncReadModel(ctx, entry.market)
	return payout, nil
}

// EstimatePayout previews a holder's settlement payout.
func (s *EngineService) EstimatePayout(ctx context.Context, marketID string, holder common.Address) (*big.Int, error) {
	entry, ok := s.entry(marketID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return s.router.EstimatePayout(entry.market, holder)
}

// Balances returns a holder's outcome-token and LP balances in one market.
func (s *EngineService) Balances(ctx context.Context, marketID string, holder common.Address) ([]*big.Int, *big.Int, error) {
	entry, ok := s.entry(marketID)
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	m := entry.market
	balances := make([]*big.Int, m.NumOutcomes())
	for i := range balances {
		balances[i] = m.Balance(holder, i)
	}
	return balances, m.LPBalance(holder), nil
}

// MarketCount reports the number of markets in the read-model.
func (s *EngineService) MarketCount(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}

func (s *EngineService) entry(id string) (*marketEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.markets[id]
	return e, ok
}

// acquireLock takes the market's distributed lock when a lock manager is
// configured. Single-instance deployments run without one.
func (s *EngineService) acquireLock(ctx context.Context, marketID string) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	unlock, err := s.locks.Acquire(ctx, "market:"+marketID, marketLockTTL)
	if err != nil {
		return nil, err
	}
	return unlock, nil
}

// syncReadModel persists the snapshot and price partition. Both writes are
// best-effort: the engine state is already committed, and a read-model gap
// heals on the next mutation.
func (s *EngineService) syncReadModel(ctx context.Context, m *amm.Market) domain.MarketSnapshot {
	snap, err := m.Snapshot()
	if err != nil {
		s.logger.ErrorContext(ctx, "engine_service: snapshot failed",
			slog.String("market_id", m.ID()),
			slog.String("error", err.Error()),
		)
		return domain.MarketSnapshot{ID: m.ID()}
	}

	if err := s.store.Upsert(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "engine_service: snapshot upsert failed",
			slog.String("market_id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.prices.SetPrices(ctx, snap.ID, snap.Prices, snap.UpdatedAt); err != nil {
		s.logger.WarnContext(ctx, "engine_service: price cache update failed",
			slog.String("market_id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
	return snap
}

func (s *EngineService) persistTrade(ctx context.Context, t domain.Trade) {
	if err := s.trades.Insert(ctx, t); err != nil {
		s.logger.WarnContext(ctx, "engine_service: trade insert failed",
			slog.String("trade_id", t.ID),
			slog.String("market_id", t.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *EngineService) publishEvent(ctx context.Context, channel string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "engine_service: event marshal failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "engine_service: event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func amountStrings(vs []*big.Int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		if v == nil {
			out[i] = "0"
			continue
		}
		out[i] = v.String()
	}
	return out
}
