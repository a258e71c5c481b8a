// Package retention periodically purges send records past their retention
// age. The record carries the stored body snapshot in its metadata, so
// deleting the row removes the snapshot with it.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/shineum/mail-track-lite/internal/store"
)

// sweepInterval is how often the sweeper checks for expired records.
const sweepInterval = 1 * time.Hour

// Sweeper deletes send records older than the configured retention age.
type Sweeper struct {
	store store.Store
	age   time.Duration
}

// NewSweeper creates a Sweeper; a non-positive age disables sweeping.
func NewSweeper(st store.Store, age time.Duration) *Sweeper {
	return &Sweeper{store: st, age: age}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.age <= 0 {
		slog.Info("retention sweeping disabled")
		return
	}

	slog.Info("retention sweeper started", "age", s.age.String())
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			deleted, err := s.store.DeleteOlderThan(ctx, s.age)
			if err != nil {
				slog.Error("retention sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				slog.Info("purged expired send records", "count", deleted)
			}
		}
	}
}
