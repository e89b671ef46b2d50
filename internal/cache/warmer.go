package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/senzenn/solana-indexer/internal/platform/observability"
	"github.com/senzenn/solana-indexer/internal/platform/worker"
)

// ErrNoProgress is returned when an entire warmup batch fails to cache a
// single slot.
var ErrNoProgress = errors.New("cache: warmup made no progress")

// SlotSource is the source-of-truth boundary the warmer pulls from. The
// core has no other outbound dependency.
type SlotSource interface {
	// CurrentSlot returns the source's most recent slot number.
	CurrentSlot(ctx context.Context) (uint64, error)

	// SlotLeader returns the leader identity for a slot.
	SlotLeader(ctx context.Context, slot uint64) (string, error)
}

// WarmerConfig configures the slot cache warmer.
type WarmerConfig struct {
	Source  SlotSource
	Manager *Manager
	Logger  *observability.Logger
	Meter   *observability.Metrics

	// Concurrency bounds parallel slot fetches. Defaults to 4.
	Concurrency int

	// Timeout caps one whole warmup batch. Defaults to 30s.
	Timeout time.Duration
}

// WarmupResult reports the outcome of one warmup batch.
type WarmupResult struct {
	Requested int
	Warmed    int
	Skipped   int
	Duration  time.Duration
}

// Warmer pre-loads the slot tier ahead of read traffic so the system does
// not start with a burst of misses. Warming is a best-effort optimization:
// per-slot failures are skipped, never propagated.
type Warmer struct {
	source      SlotSource
	manager     *Manager
	logger      *observability.Logger
	meter       *observability.Metrics
	concurrency int
	timeout     time.Duration
	now         func() time.Time
}

// NewWarmer creates a Warmer. Source and Manager are required.
func NewWarmer(cfg WarmerConfig) (*Warmer, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("slot source is required")
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("cache manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Warmer{
		source:      cfg.Source,
		manager:     cfg.Manager,
		logger:      cfg.Logger,
		meter:       cfg.Meter,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		now:         time.Now,
	}, nil
}

// WarmRecentSlots fetches the most recent count slots, descending from the
// source's current slot, and caches their metadata. Each slot gets a single
// attempt; failures are skipped and counted. An error is returned only when
// the current slot cannot be determined or the whole batch fails.
func (w *Warmer) WarmRecentSlots(ctx context.Context, count int) (WarmupResult, error) {
	start := w.now()
	result := WarmupResult{Requested: count}
	if count <= 0 {
		return result, nil
	}

	warmCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	current, err := w.source.CurrentSlot(warmCtx)
	if err != nil {
		return result, fmt.Errorf("failed to fetch current slot: %w", err)
	}

	jobs := make([]worker.Job[uint64], 0, count)
	for i := 0; i < count && uint64(i) <= current; i++ {
		slot := current - uint64(i)
		jobs = append(jobs, worker.Job[uint64]{
			ID:      fmt.Sprintf("slot-%d", slot),
			Execute: w.warmSlotJob(slot, current),
		})
	}
	result.Requested = len(jobs)

	pool := worker.NewPool[uint64](warmCtx, w.concurrency, len(jobs))
	defer pool.Close()

	for _, res := range pool.SubmitAndWait(jobs) {
		if res.Err != nil {
			result.Skipped++
			w.logger.LogDebug(warmCtx, "skipping slot during warmup",
				"job", res.JobID, "error", res.Err)
			continue
		}
		result.Warmed++
	}

	// A timed-out or cancelled batch yields fewer results than jobs; the
	// missing slots count as skipped so the result always balances.
	if missing := result.Requested - result.Warmed - result.Skipped; missing > 0 {
		result.Skipped += missing
	}

	result.Duration = w.now().Sub(start)

	if w.meter != nil {
		w.meter.RecordWarmup(ctx, int64(result.Warmed), int64(result.Skipped))
	}

	if result.Warmed == 0 && result.Requested > 0 {
		return result, fmt.Errorf("%w: %d slots attempted", ErrNoProgress, result.Requested)
	}

	w.logger.LogInfo(ctx, "slot cache warmed",
		"warmed", result.Warmed,
		"skipped", result.Skipped,
		"duration_ms", result.Duration.Milliseconds(),
	)

	return result, nil
}

// warmSlotJob fetches one slot's minimal metadata and caches it. Confirmed
// and finalized flags follow the source's commitment depths: two slots for
// confirmation, thirty-two for finality.
func (w *Warmer) warmSlotJob(slot, current uint64) func(ctx context.Context) (uint64, error) {
	return func(ctx context.Context) (uint64, error) {
		leader, err := w.source.SlotLeader(ctx, slot)
		if err != nil {
			return slot, fmt.Errorf("slot %d leader lookup: %w", slot, err)
		}

		rec := SlotRecord{
			Slot:      slot,
			Leader:    leader,
			BlockHash: fmt.Sprintf("block_%d", slot),
			Timestamp: w.now().Unix(),
			Confirmed: slot < saturatingSub(current, 2),
			Finalized: slot < saturatingSub(current, 32),
		}

		if err := w.manager.CacheSlot(ctx, rec); err != nil {
			return slot, err
		}
		return slot, nil
	}
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
