package allowlist

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically evicts expired temporary entries from a Store.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper ticking at the given interval.
func NewSweeper(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until the context is cancelled, sweeping once per interval.
// A failed tick is logged and the sweeper waits out the next interval as
// usual; nothing short of cancellation stops it.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep partitions the temporary records into live and expired and, if
// anything expired, persists only the live subset. Records whose expiry
// fails to parse count as live (see TempEntry.Expired) so they are
// surfaced in logs instead of silently dropped.
func (s *Sweeper) sweep(now time.Time) {
	entries, err := s.store.ReadTemp()
	if err != nil {
		s.logger.Error("sweep: read temporary numbers", "error", err)
		return
	}

	live := entries[:0]
	expired := 0
	for _, e := range entries {
		if _, perr := e.ExpiryTime(); perr != nil {
			s.logger.Warn("sweep: unparsable expiry, entry retained",
				"phone", e.Phone, "expiry", e.Expiry, "error", perr)
		}
		if e.Expired(now) {
			expired++
			continue
		}
		live = append(live, e)
	}
	if expired == 0 {
		return
	}

	if err := s.store.WriteTemp(live); err != nil {
		s.logger.Error("sweep: write temporary numbers", "error", err)
		return
	}
	s.logger.Info("swept expired temporary numbers", "expired", expired, "live", len(live))
}
