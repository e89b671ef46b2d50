// Package watcher polls a set of accounts and reports state changes. It is
// the canonical cache consumer: reads go through the cache manager, misses
// fall back to the RPC source of truth and are cached for the next cycle.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/senzenn/solana-indexer/internal/cache"
	"github.com/senzenn/solana-indexer/internal/platform/observability"
)

// AccountSource fetches the current account state from the source of truth.
type AccountSource interface {
	FetchAccount(ctx context.Context, pubkey string) (cache.AccountRecord, error)
}

// Change describes one observed account state transition.
type Change struct {
	Pubkey         string
	Field          string
	LamportsBefore uint64
	LamportsAfter  uint64
	DataLenBefore  int
	DataLenAfter   int
	ObservedAt     time.Time
}

// Config holds watcher configuration.
type Config struct {
	Accounts     []string
	PollInterval time.Duration

	// Concurrency bounds parallel account lookups per poll. Defaults to 4.
	Concurrency int64

	Manager *cache.Manager
	Source  AccountSource
	Logger  *observability.Logger
	Meter   *observability.Metrics
}

// Watcher polls accounts on a fixed interval, diffing each snapshot against
// the previous one. The cache absorbs repeat reads between polls; the
// watcher never mutates the source of truth.
type Watcher struct {
	accounts []string
	interval time.Duration
	manager  *cache.Manager
	source   AccountSource
	logger   *observability.Logger
	meter    *observability.Metrics
	sem      *semaphore.Weighted

	mu   sync.Mutex
	last map[string]cache.AccountRecord
}

// New creates a Watcher. Manager and Source are required.
func New(cfg Config) (*Watcher, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("cache manager is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("account source is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	return &Watcher{
		accounts: cfg.Accounts,
		interval: cfg.PollInterval,
		manager:  cfg.Manager,
		source:   cfg.Source,
		logger:   cfg.Logger,
		meter:    cfg.Meter,
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		last:     make(map[string]cache.AccountRecord),
	}, nil
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.accounts) == 0 {
		w.logger.LogInfo(ctx, "no accounts configured, watcher idle")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.poll(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// poll reads every watched account once and reports changes. Lookups fan
// out under the concurrency semaphore.
func (w *Watcher) poll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, pubkey := range w.accounts {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return
		}

		wg.Add(1)
		go func(pubkey string) {
			defer wg.Done()
			defer w.sem.Release(1)
			w.observe(ctx, pubkey)
		}(pubkey)
	}

	wg.Wait()
}

// observe reads one account and reports any changes since the last poll.
func (w *Watcher) observe(ctx context.Context, pubkey string) {
	rec, err := w.lookup(ctx, pubkey)
	if err != nil {
		w.logger.LogWarn(ctx, "account lookup failed", "pubkey", pubkey, "error", err)
		if w.meter != nil {
			w.meter.RecordError(ctx, "account_lookup")
		}
		return
	}

	for _, change := range w.diff(pubkey, rec) {
		w.logger.LogInfo(ctx, "account state changed",
			"pubkey", change.Pubkey,
			"field", change.Field,
			"lamports_before", change.LamportsBefore,
			"lamports_after", change.LamportsAfter,
		)
		if w.meter != nil {
			w.meter.RecordAccountChange(ctx, change.Field)
		}
	}
}

// lookup reads through the cache: hit wins, miss fetches from the source
// and caches the result.
func (w *Watcher) lookup(ctx context.Context, pubkey string) (cache.AccountRecord, error) {
	if rec, ok := w.manager.GetAccount(ctx, pubkey); ok {
		return rec, nil
	}

	rec, err := w.source.FetchAccount(ctx, pubkey)
	if err != nil {
		return cache.AccountRecord{}, err
	}

	if err := w.manager.CacheAccount(ctx, rec); err != nil {
		w.logger.LogWarn(ctx, "failed to cache account", "pubkey", pubkey, "error", err)
	}

	return rec, nil
}

// diff compares a snapshot with the previous one, records it as the new
// baseline, and returns the observed changes.
func (w *Watcher) diff(pubkey string, rec cache.AccountRecord) []Change {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, seen := w.last[pubkey]
	w.last[pubkey] = rec
	if !seen {
		return nil
	}

	now := time.Now()
	var changes []Change

	if prev.Lamports != rec.Lamports {
		changes = append(changes, Change{
			Pubkey:         pubkey,
			Field:          "lamports",
			LamportsBefore: prev.Lamports,
			LamportsAfter:  rec.Lamports,
			ObservedAt:     now,
		})
	}
	if prev.Owner != rec.Owner {
		changes = append(changes, Change{Pubkey: pubkey, Field: "owner", ObservedAt: now})
	}
	if prev.DataLen != rec.DataLen {
		changes = append(changes, Change{
			Pubkey:        pubkey,
			Field:         "data_len",
			DataLenBefore: prev.DataLen,
			DataLenAfter:  rec.DataLen,
			ObservedAt:    now,
		})
	}
	if prev.Executable != rec.Executable {
		changes = append(changes, Change{Pubkey: pubkey, Field: "executable", ObservedAt: now})
	}

	return changes
}
