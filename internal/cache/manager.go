package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/senzenn/solana-indexer/internal/platform/observability"
)

// Kind identifies one cached entity kind.
type Kind string

const (
	KindSlots        Kind = "slots"
	KindTransactions Kind = "transactions"
	KindAccounts     Kind = "accounts"
	KindBlocks       Kind = "blocks"
)

// Metric names recorded in the metrics tier. Per-kind names follow the
// pattern <kind>_cache_hits / _misses / _stored / _avg_response_time_us.
const (
	metricHits     = "_cache_hits"
	metricMisses   = "_cache_misses"
	metricStored   = "_cached"
	metricReadTime = "_avg_response_time_us"
)

// ManagerConfig bounds every tier the Manager owns. Zero-value sections are
// replaced with the defaults from DefaultManagerConfig.
type ManagerConfig struct {
	Slots        TierConfig
	Transactions TierConfig
	Accounts     TierConfig
	Blocks       TierConfig
	Metrics      TierConfig

	Logger *observability.Logger
	Meter  *observability.Metrics
}

// DefaultManagerConfig returns the production tier bounds: hot slots are
// small and short-lived, transactions and accounts are byte-weighed with
// medium TTLs, blocks are large and long-lived without idle eviction.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Slots: TierConfig{
			MaxEntries:  1000,
			TTL:         30 * time.Second,
			IdleTimeout: 10 * time.Second,
		},
		Transactions: TierConfig{
			MaxEntries:  10000,
			MaxWeight:   50_000_000,
			TTL:         5 * time.Minute,
			IdleTimeout: time.Minute,
		},
		Accounts: TierConfig{
			MaxEntries:  5000,
			MaxWeight:   100_000_000,
			TTL:         10 * time.Minute,
			IdleTimeout: 2 * time.Minute,
		},
		Blocks: TierConfig{
			MaxEntries: 500,
			MaxWeight:  500_000_000,
			TTL:        time.Hour,
		},
		Metrics: TierConfig{
			MaxEntries: 1000,
			TTL:        time.Minute,
		},
	}
}

// kindCounters accumulates per-kind read/write accounting. Atomics so that
// concurrent increments are never lost.
type kindCounters struct {
	hits       atomic.Int64
	misses     atomic.Int64
	stored     atomic.Int64
	readMicros atomic.Int64
	reads      atomic.Int64
}

// Manager owns one tier per entity kind plus the metrics tier. It is the
// sole entry point to the tiers: collaborators read and write through the
// typed per-kind methods and never touch a Tier directly. A Manager is
// created once per process and shared by reference.
type Manager struct {
	slots        *Tier[uint64, SlotRecord]
	transactions *Tier[string, TransactionRecord]
	accounts     *Tier[string, AccountRecord]
	blocks       *Tier[uint64, BlockBlob]
	metrics      *Tier[string, MetricSample]

	slotC  kindCounters
	txC    kindCounters
	acctC  kindCounters
	blockC kindCounters

	lastMaintenance atomic.Int64

	logger *observability.Logger
	meter  *observability.Metrics
	now    func() time.Time
}

// NewManager creates a Manager with one tier per entity kind. Unset tier
// sections fall back to the defaults.
func NewManager(cfg ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	if cfg.Slots == (TierConfig{}) {
		cfg.Slots = def.Slots
	}
	if cfg.Transactions == (TierConfig{}) {
		cfg.Transactions = def.Transactions
	}
	if cfg.Accounts == (TierConfig{}) {
		cfg.Accounts = def.Accounts
	}
	if cfg.Blocks == (TierConfig{}) {
		cfg.Blocks = def.Blocks
	}
	if cfg.Metrics == (TierConfig{}) {
		cfg.Metrics = def.Metrics
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	return &Manager{
		slots:        NewTier[uint64, SlotRecord](cfg.Slots, nil),
		transactions: NewTier[string](cfg.Transactions, weighTransaction),
		accounts:     NewTier[string](cfg.Accounts, weighAccount),
		blocks:       NewTier[uint64](cfg.Blocks, weighBlock),
		metrics:      NewTier[string, MetricSample](cfg.Metrics, nil),
		logger:       cfg.Logger,
		meter:        cfg.Meter,
		now:          time.Now,
	}
}

// CacheSlot stores slot metadata in the hot slot tier.
func (m *Manager) CacheSlot(ctx context.Context, rec SlotRecord) error {
	rec.CachedAt = m.now().Unix()
	m.slots.Put(rec.Slot, rec)
	m.observeStore(ctx, KindSlots, &m.slotC)
	return nil
}

// GetSlot reads slot metadata from the hot slot tier.
func (m *Manager) GetSlot(ctx context.Context, slot uint64) (SlotRecord, bool) {
	start := m.now()
	rec, ok := m.slots.Get(slot)
	m.observeRead(ctx, KindSlots, &m.slotC, ok, m.now().Sub(start))
	return rec, ok
}

// CacheTransaction stores a transaction, keyed by signature.
func (m *Manager) CacheTransaction(ctx context.Context, rec TransactionRecord) error {
	rec.CachedAt = m.now().Unix()
	m.transactions.Put(rec.Signature, rec)
	m.observeStore(ctx, KindTransactions, &m.txC)
	return nil
}

// GetTransaction reads a transaction by signature.
func (m *Manager) GetTransaction(ctx context.Context, signature string) (TransactionRecord, bool) {
	start := m.now()
	rec, ok := m.transactions.Get(signature)
	m.observeRead(ctx, KindTransactions, &m.txC, ok, m.now().Sub(start))
	return rec, ok
}

// CacheAccount stores an account state, keyed by pubkey.
func (m *Manager) CacheAccount(ctx context.Context, rec AccountRecord) error {
	rec.CachedAt = m.now().Unix()
	m.accounts.Put(rec.Pubkey, rec)
	m.observeStore(ctx, KindAccounts, &m.acctC)
	return nil
}

// GetAccount reads an account state by pubkey.
func (m *Manager) GetAccount(ctx context.Context, pubkey string) (AccountRecord, bool) {
	start := m.now()
	rec, ok := m.accounts.Get(pubkey)
	m.observeRead(ctx, KindAccounts, &m.acctC, ok, m.now().Sub(start))
	return rec, ok
}

// CacheBlock stores a raw block payload, keyed by slot.
func (m *Manager) CacheBlock(ctx context.Context, blob BlockBlob) error {
	m.blocks.Put(blob.Slot, blob)
	m.observeStore(ctx, KindBlocks, &m.blockC)
	return nil
}

// GetBlock reads a raw block payload by slot.
func (m *Manager) GetBlock(ctx context.Context, slot uint64) (BlockBlob, bool) {
	start := m.now()
	blob, ok := m.blocks.Get(slot)
	m.observeRead(ctx, KindBlocks, &m.blockC, ok, m.now().Sub(start))
	return blob, ok
}

// GetMetric reads one sample from the metrics tier.
func (m *Manager) GetMetric(name string) (MetricSample, bool) {
	return m.metrics.Get(name)
}

// RunMaintenance forces eviction of expired, idle and over-cap entries on
// every owned tier. Tier order carries no dependency.
func (m *Manager) RunMaintenance() {
	start := m.now()

	m.slots.RunPendingMaintenance()
	m.transactions.RunPendingMaintenance()
	m.accounts.RunPendingMaintenance()
	m.blocks.RunPendingMaintenance()
	m.metrics.RunPendingMaintenance()

	m.lastMaintenance.Store(start.Unix())
	if m.meter != nil {
		ctx := context.Background()
		m.meter.RecordMaintenance(ctx, m.now().Sub(start))
		m.meter.RecordCacheEntries(ctx, string(KindSlots), int64(m.slots.EntryCount()))
		m.meter.RecordCacheEntries(ctx, string(KindTransactions), int64(m.transactions.EntryCount()))
		m.meter.RecordCacheEntries(ctx, string(KindAccounts), int64(m.accounts.EntryCount()))
		m.meter.RecordCacheEntries(ctx, string(KindBlocks), int64(m.blocks.EntryCount()))
	}
}

// InvalidateAll empties every owned tier. Subsequent reads miss until new
// records are cached.
func (m *Manager) InvalidateAll() {
	m.logger.Warn("invalidating all cache tiers")

	m.slots.InvalidateAll()
	m.transactions.InvalidateAll()
	m.accounts.InvalidateAll()
	m.blocks.InvalidateAll()
	m.metrics.InvalidateAll()
}

// observeStore bumps the per-kind stored counter and mirrors it into the
// metrics tier.
func (m *Manager) observeStore(ctx context.Context, kind Kind, c *kindCounters) {
	total := c.stored.Add(1)
	m.recordSample(string(kind)+metricStored, float64(total))

	if m.meter != nil {
		m.meter.RecordCacheStore(ctx, string(kind))
	}
}

// observeRead accounts for one read outcome. The counter increment is atomic
// with respect to concurrent reads, so no hit or miss is ever lost; the
// mirrored sample in the metrics tier trails by at most one write.
func (m *Manager) observeRead(ctx context.Context, kind Kind, c *kindCounters, hit bool, latency time.Duration) {
	c.reads.Add(1)
	c.readMicros.Add(latency.Microseconds())

	if hit {
		total := c.hits.Add(1)
		m.recordSample(string(kind)+metricHits, float64(total))
		if m.meter != nil {
			m.meter.RecordCacheHit(ctx, string(kind))
		}
	} else {
		total := c.misses.Add(1)
		m.recordSample(string(kind)+metricMisses, float64(total))
		if m.meter != nil {
			m.meter.RecordCacheMiss(ctx, string(kind))
		}
	}

	if reads := c.reads.Load(); reads > 0 {
		avg := float64(c.readMicros.Load()) / float64(reads)
		m.recordSample(string(kind)+metricReadTime, avg)
	}
}

func (m *Manager) recordSample(name string, value float64) {
	m.metrics.Put(name, MetricSample{
		Name:      name,
		Value:     value,
		Timestamp: m.now().Unix(),
	})
}
