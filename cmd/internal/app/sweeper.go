package app

import (
	"context"
	"time"
)

// expirySweeper is the part of the controller the sweeper drives.
type expirySweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// runSweeper deletes expired sessions every interval until ctx is done.
func runSweeper(ctx context.Context, log Logger, s expirySweeper, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sweepOnce(ctx, log, s, interval)
		}
	}
}

func sweepOnce(ctx context.Context, log Logger, s expirySweeper, budget time.Duration) {
	sctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	n, err := s.SweepExpired(sctx)
	switch {
	case err != nil && ctx.Err() == nil:
		log.Warn("sessions.sweep.fail", "err", err)
	case n > 0:
		log.Info("sessions.sweep", "removed", n)
	default:
		log.Debug("sessions.sweep", "removed", 0)
	}
}
