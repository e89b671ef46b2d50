package cache

import (
	"context"
	"time"

	"github.com/senzenn/solana-indexer/internal/platform/observability"
)

// Sweeper drives periodic maintenance across the Manager's tiers. It is
// external to the tiers on purpose: lazy expiry on read keeps the cache
// correct even when the sweeper runs at irregular intervals or not at all,
// the sweep only bounds growth in the absence of reads.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *observability.Logger
}

// NewSweeper creates a sweeper. Interval defaults to 30s.
func NewSweeper(manager *Manager, interval time.Duration, logger *observability.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Sweeper{
		manager:  manager,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks, sweeping every interval until ctx is cancelled. Safe to run
// concurrently with ordinary get/put traffic.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.manager.RunMaintenance()

			stats := s.manager.Stats()
			s.logger.LogDebug(ctx, "cache maintenance completed",
				"total_memory_mb", stats.TotalMemoryMB,
				"slots", stats.Tiers[KindSlots].EntryCount,
				"transactions", stats.Tiers[KindTransactions].EntryCount,
				"accounts", stats.Tiers[KindAccounts].EntryCount,
				"blocks", stats.Tiers[KindBlocks].EntryCount,
			)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
