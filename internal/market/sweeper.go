package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/chipcast/market-engine/internal/metrics"
	"github.com/chipcast/market-engine/internal/model"
)

// RunSweeper periodically closes open markets whose end date has passed,
// stopping further betting while the market awaits resolution. Runs until
// the context is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
		}
	}
}

// sweepExpired closes every expired market, one at a time under its
// per-market lock so a close cannot race an in-flight bet.
func (s *Service) sweepExpired(ctx context.Context) {
	expired, err := s.store.ListExpiredMarkets(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("sweeper: listing expired markets failed", "err", err)
		return
	}

	for _, m := range expired {
		unlock := s.locks.lock(m.ID)
		err := s.store.ApplyClose(ctx, m.ID)
		unlock()
		if err != nil {
			// Already closed or resolved by a concurrent caller.
			continue
		}

		metrics.OpenMarkets.Dec()
		metrics.MarketsClosed.Inc()

		slog.Info("market closed by end-date sweeper",
			"market_id", m.ID,
			"end_date", m.EndDate,
		)

		m.Status = model.StatusClosed
		s.broadcastMarket("market_closed", &m, "", "")
	}
}
