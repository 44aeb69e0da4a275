package order

import (
	"context"
	"fmt"
	"time"
)

// StartExpirySweeper expires pending orders whose payment window has
// elapsed. It blocks until ctx is cancelled, so callers run it in its
// own goroutine. Each sweep is independent; a failed sweep is logged
// and retried on the next tick.
func (s *Service) StartExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.Logger.Info("EXPIRY", fmt.Sprintf("sweeper started, interval=%s window=%s", interval, s.opts.PendingTTL))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("EXPIRY", "sweeper stopped")
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
		}
	}
}

func (s *Service) sweepExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.opts.PendingTTL)
	stale, err := s.DB.GetStalePendingOrders(ctx, cutoff)
	if err != nil {
		s.Logger.Error("EXPIRY", fmt.Sprintf("stale order scan failed: %v", err))
		return
	}
	if len(stale) == 0 {
		return
	}

	expired := 0
	for _, o := range stale {
		// Re-checked inside the transaction; a payment landing between
		// the scan and the update wins and ExpireOrder returns nil.
		updated, err := s.DB.ExpireOrder(ctx, o.ID)
		if err != nil {
			s.Logger.Error("EXPIRY", fmt.Sprintf("expire order %d: %v", o.ID, err))
			continue
		}
		if updated == nil {
			continue
		}
		expired++
		s.Logger.LogOrder("EXPIRE", updated.ID, fmt.Sprintf("pending since %s", o.CreatedAt.Format(time.RFC3339)))
		if err := s.Publisher.PublishOrderExpired(updated); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("publish order expired: %v", err))
		}
	}
	if expired > 0 {
		s.Logger.Info("EXPIRY", fmt.Sprintf("expired %d of %d stale pending orders", expired, len(stale)))
	}
}
