package cache

// TierStats is a point-in-time view of one tier's occupancy.
type TierStats struct {
	EntryCount   uint64 `json:"entry_count"`
	WeightedSize uint64 `json:"weighted_size"`
}

// StatsSnapshot aggregates occupancy across all entity tiers. Plain data:
// the caller picks the encoding.
type StatsSnapshot struct {
	Tiers            map[Kind]TierStats `json:"tiers"`
	TotalMemoryBytes uint64             `json:"total_memory_bytes"`
	TotalMemoryMB    uint64             `json:"total_memory_usage_mb"`
}

// PerformanceSnapshot is the derived view over the counters recorded in the
// metrics tier.
type PerformanceSnapshot struct {
	CacheHitRatio     float64 `json:"cache_hit_ratio"`
	MemoryEfficiency  float64 `json:"memory_efficiency"`
	AvgReadLatencyUS  float64 `json:"avg_response_time_us"`
	Health            string  `json:"health"`
	LastMaintenance   int64   `json:"last_maintenance"`
}

var allKinds = []Kind{KindSlots, KindTransactions, KindAccounts, KindBlocks}

// Stats returns entry counts and weighted sizes for all entity tiers plus
// total memory usage. Values are eventually consistent under concurrent
// mutation but never exceed the configured caps once housekeeping has run.
func (m *Manager) Stats() StatsSnapshot {
	tiers := map[Kind]TierStats{
		KindSlots:        {m.slots.EntryCount(), m.slots.WeightedSize()},
		KindTransactions: {m.transactions.EntryCount(), m.transactions.WeightedSize()},
		KindAccounts:     {m.accounts.EntryCount(), m.accounts.WeightedSize()},
		KindBlocks:       {m.blocks.EntryCount(), m.blocks.WeightedSize()},
	}

	var total uint64
	for _, ts := range tiers {
		total += ts.WeightedSize
	}

	return StatsSnapshot{
		Tiers:            tiers,
		TotalMemoryBytes: total,
		TotalMemoryMB:    total / 1_000_000,
	}
}

// Performance derives the hit ratio, memory efficiency and latency summary
// from the counters mirrored in the metrics tier. All divisions are
// zero-guarded: with no recorded reads the hit ratio is 0.0, never NaN.
func (m *Manager) Performance() PerformanceSnapshot {
	var hits, misses float64
	for _, kind := range allKinds {
		hits += m.metricValue(string(kind) + metricHits)
		misses += m.metricValue(string(kind) + metricMisses)
	}

	ratio := 0.0
	if hits+misses > 0 {
		ratio = hits / (hits + misses)
	}

	var totalWeight, totalEntries uint64
	stats := m.Stats()
	for _, ts := range stats.Tiers {
		totalWeight += ts.WeightedSize
		totalEntries += ts.EntryCount
	}

	efficiency := 0.0
	if totalEntries > 0 {
		efficiency = float64(totalWeight) / float64(totalEntries)
	}

	return PerformanceSnapshot{
		CacheHitRatio:    ratio,
		MemoryEfficiency: efficiency,
		AvgReadLatencyUS: m.avgReadLatency(),
		Health:           "healthy",
		LastMaintenance:  m.lastMaintenance.Load(),
	}
}

// avgReadLatency averages per-kind read latency, weighted by read count.
func (m *Manager) avgReadLatency() float64 {
	counters := []*kindCounters{&m.slotC, &m.txC, &m.acctC, &m.blockC}

	var micros, reads int64
	for _, c := range counters {
		micros += c.readMicros.Load()
		reads += c.reads.Load()
	}

	if reads == 0 {
		return 0
	}
	return float64(micros) / float64(reads)
}

func (m *Manager) metricValue(name string) float64 {
	sample, ok := m.metrics.Get(name)
	if !ok {
		return 0
	}
	return sample.Value
}
