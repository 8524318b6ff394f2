package relay

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper evicts expired sessions on a fixed interval. It is a backstop for
// sessions nobody ever retrieves; the store checks expiry on every read, so
// sweep timing does not affect correctness.
type Sweeper struct {
	store    Store
	interval time.Duration
}

func NewSweeper(store Store, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

// sweep runs one eviction pass. A failing pass must not take the process
// down; it is logged and the next tick tries again.
func (s *Sweeper) sweep(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session sweep failed", "panic", r)
		}
	}()

	if count := s.store.ExpireAll(now); count > 0 {
		sessionsExpiredTotal.Add(float64(count))
		slog.Info("evicted expired sessions", "count", count)
	}
}
