package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market snapshots for the read-model.
type MarketStore interface {
	Upsert(ctx context.Context, m MarketSnapshot) error
	GetByID(ctx context.Context, id string) (MarketSnapshot, error)
	List(ctx context.Context, opts ListOpts) ([]MarketSnapshot, error)
	ListResolvedBefore(ctx context.Context, before time.Time) ([]MarketSnapshot, error)
	Count(ctx context.Context) (int64, error)
}

// TradeStore persists the append-only trade log.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, marketID string, before time.Time) ([]Trade, error)
	DeleteByMarket(ctx context.Context, marketID string) (int64, error)
}
