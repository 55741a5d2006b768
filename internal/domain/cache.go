package domain

import (
	"context"
	"math/big"
	"time"
)

// PriceCache stores the latest price partition of each market so quoting UIs
// can read prices without touching the engine.
type PriceCache interface {
	SetPrices(ctx context.Context, marketID string, prices []*big.Int, ts time.Time) error
	GetPrices(ctx context.Context, marketID string) ([]*big.Int, time.Time, error)
}

// LockManager provides a distributed mutual-exclusion primitive. The engine
// takes one lock per market for the duration of each mutating call so that
// multi-instance deployments keep the single-writer discipline.
type LockManager interface {
	// Acquire obtains the lock for key or returns ErrLockHeld. The returned
	// function releases the lock and is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter limits request rates per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus is a lightweight pub/sub fabric carrying trade and price events
// from the engine to the WebSocket hub and other subscribers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
