package store

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically purges idempotency records older than the retention
// window from any Outcomes backend.
type Sweeper struct {
	outcomes  Outcomes
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	onPurge   func(int)
}

// NewSweeper returns a Sweeper. A non-positive interval defaults to half the
// retention, never less than one second.
func NewSweeper(o Outcomes, retention, interval time.Duration, onPurge func(int)) *Sweeper {
	if interval <= 0 {
		interval = retention / 2
	}
	if interval < time.Second {
		interval = time.Second
	}
	return &Sweeper{outcomes: o, retention: retention, interval: interval, now: time.Now, onPurge: onPurge}
}

// Sweep runs one purge pass and returns the number of records removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.outcomes.PurgeOutcomes(ctx, s.now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 && s.onPurge != nil {
		s.onPurge(n)
	}
	return n, nil
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				slog.Warn("store: idempotency sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("store: purged idempotency records", "count", n)
			}
		}
	}
}
