package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/outcomelab/ammd/internal/domain"
)

// ArchiveService periodically moves the trade logs of long-resolved markets
// into cold storage.
type ArchiveService struct {
	markets  domain.MarketStore
	archiver domain.Archiver
	logger   *slog.Logger

	interval  time.Duration
	retention time.Duration
}

// NewArchiveService creates an ArchiveService that sweeps every interval and
// archives markets resolved more than retention ago.
func NewArchiveService(
	markets domain.MarketStore,
	archiver domain.Archiver,
	logger *slog.Logger,
	interval, retention time.Duration,
) *ArchiveService {
	return &ArchiveService{
		markets:   markets,
		archiver:  archiver,
		logger:    logger,
		interval:  interval,
		retention: retention,
	}
}

// Run sweeps on a ticker until the context is cancelled. One sweep's failure
// is logged and does not stop the loop.
func (s *ArchiveService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "archive_service: started",
		slog.Duration("interval", s.interval),
		slog.Duration("retention", s.retention),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "archive_service: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "archive_service: sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Sweep archives every market resolved before the retention cutoff. It keeps
// going past per-market failures and returns the first error encountered.
func (s *ArchiveService) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention)
	resolved, err := s.markets.ListResolvedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive_service: list resolved: %w", err)
	}

	var firstErr error
	for _, m := range resolved {
		n, err := s.archiver.ArchiveMarket(ctx, m.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "archive_service: market archive failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.logger.InfoContext(ctx, "archive_service: market archived",
			slog.String("market_id", m.ID),
			slog.Int64("trades", n),
		)
	}
	return firstErr
}
