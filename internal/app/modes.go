package app

import (
	"context"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/outcomelab/ammd/internal/amm"
	"github.com/outcomelab/ammd/internal/server"
	"github.com/outcomelab/ammd/internal/server/handler"
	"github.com/outcomelab/ammd/internal/server/ws"
	"github.com/outcomelab/ammd/internal/service"
)

// ServerMode runs the trading engine behind the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	engine := a.buildEngine(deps)
	a.startHTTPServer(ctx, g, deps, engine)

	return g.Wait()
}

// FullMode runs the engine and API plus the background archive sweeper.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	engine := a.buildEngine(deps)
	a.startHTTPServer(ctx, g, deps, engine)

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		interval := a.cfg.Archive.Interval.Duration
		if interval <= 0 {
			interval = time.Hour
		}
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

		archiveSvc := service.NewArchiveService(
			deps.MarketStore, deps.Archiver, a.logger, interval, retention,
		)
		g.Go(func() error {
			err := archiveSvc.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	} else {
		a.logger.InfoContext(ctx, "full mode: archival disabled")
	}

	return g.Wait()
}

// buildEngine constructs the router and engine service from configuration.
func (a *App) buildEngine(deps *Dependencies) *service.EngineService {
	if a.cfg.Engine.MinInitialLiq > 0 {
		amm.MinLiquidity = big.NewInt(a.cfg.Engine.MinInitialLiq)
	}

	router := amm.NewRouter(
		amm.WithSlippageBps(uint32(a.cfg.Engine.DefaultSlippageBps)),
		amm.WithDeadline(a.cfg.Engine.DefaultDeadline.Duration),
	)

	engine := service.NewEngineService(
		router,
		deps.MarketStore,
		deps.TradeStore,
		deps.PriceCache,
		deps.LockManager,
		deps.SignalBus,
		a.logger,
	)
	engine.SetDefaultFeeBps(uint32(a.cfg.Engine.FeeBps))
	return engine
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup, shutting both down gracefully on context cancellation.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	engine *service.EngineService,
) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	pingers := map[string]handler.Pinger{
		"postgres": deps.Postgres,
		"redis":    deps.Redis,
	}
	if deps.S3 != nil {
		pingers["s3"] = deps.S3
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(pingers, a.logger),
		Markets:    handler.NewMarketHandler(engine, a.logger),
		Trades:     handler.NewTradeHandler(engine, a.logger),
		Liquidity:  handler.NewLiquidityHandler(engine, a.logger),
		Settlement: handler.NewSettlementHandler(engine, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		ResolverKey:     a.cfg.Server.ResolverKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
