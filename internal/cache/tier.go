// Package cache implements the multi-tier bounded cache for indexed
// blockchain entities: slots, transactions, accounts and raw block blobs,
// plus a metrics tier for hit/miss accounting.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Weigher maps a stored value to its logical size for capacity accounting.
// A nil weigher weighs every entry at 1.
type Weigher[V any] func(V) uint64

// TierConfig bounds a single tier. Zero values disable the corresponding
// feature: MaxWeight 0 means entry-count capacity only, TTL 0 means entries
// never expire by age, IdleTimeout 0 disables idle eviction.
type TierConfig struct {
	MaxEntries  uint64
	MaxWeight   uint64
	TTL         time.Duration
	IdleTimeout time.Duration
}

type tierEntry[K comparable, V any] struct {
	key        K
	value      V
	weight     uint64
	insertedAt time.Time
	lastRead   time.Time
}

// Tier is one bounded, expiring key-value store for a single entity kind.
// All methods are safe for concurrent use; critical sections are short so
// no caller can stall unrelated traffic.
//
// Eviction policy: expired entries (TTL or idle) always go before any
// capacity-driven eviction. Capacity eviction is least-recently-used first;
// among candidates with the same last-read time the largest-weight entry is
// evicted first, to free capacity faster.
//
// A value whose own weight exceeds MaxWeight is silently rejected by Put.
// Callers must not assume a Put implies a subsequent Get will hit.
type Tier[K comparable, V any] struct {
	cfg     TierConfig
	weigher Weigher[V]

	mu     sync.RWMutex
	items  map[K]*list.Element
	lru    *list.List // front = most recently used
	weight uint64

	now func() time.Time // swapped for a fake clock in tests
}

// NewTier creates a tier with the given bounds. MaxEntries defaults to 1000
// when unset. The weigher may be nil for unweighted tiers.
func NewTier[K comparable, V any](cfg TierConfig, weigher Weigher[V]) *Tier[K, V] {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 1000
	}

	return &Tier[K, V]{
		cfg:     cfg,
		weigher: weigher,
		items:   make(map[K]*list.Element),
		lru:     list.New(),
		now:     time.Now,
	}
}

// Put inserts or replaces a value. It may synchronously evict other entries
// to bring the tier back under its entry and weight caps. Oversized values
// are dropped without error.
func (t *Tier[K, V]) Put(key K, value V) {
	w := t.weigh(value)
	if t.cfg.MaxWeight > 0 && w > t.cfg.MaxWeight {
		// Can never fit; storing it would evict the whole tier for nothing.
		return
	}

	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.items[key]; ok {
		ent := el.Value.(*tierEntry[K, V])
		t.weight -= ent.weight
		t.weight += w
		ent.value = value
		ent.weight = w
		ent.insertedAt = now
		ent.lastRead = now
		t.lru.MoveToFront(el)
	} else {
		ent := &tierEntry[K, V]{
			key:        key,
			value:      value,
			weight:     w,
			insertedAt: now,
			lastRead:   now,
		}
		t.items[key] = t.lru.PushFront(ent)
		t.weight += w
	}

	t.evictLocked(now)
}

// Get returns the value if present and not expired. A hit resets the entry's
// idle clock and recency. An expired-but-unswept entry behaves as absent and
// is removed on the spot, so correctness never depends on the sweeper.
func (t *Tier[K, V]) Get(key K) (V, bool) {
	var zero V
	now := t.now()

	t.mu.RLock()
	el, ok := t.items[key]
	if !ok {
		t.mu.RUnlock()
		return zero, false
	}

	ent := el.Value.(*tierEntry[K, V])
	if t.expired(ent, now) {
		t.mu.RUnlock()

		t.mu.Lock()
		// Re-check: a concurrent Put may have replaced the entry.
		if el, ok := t.items[key]; ok && t.expired(el.Value.(*tierEntry[K, V]), now) {
			t.removeLocked(el)
		}
		t.mu.Unlock()
		return zero, false
	}
	value := ent.value
	t.mu.RUnlock()

	t.mu.Lock()
	if el, ok := t.items[key]; ok {
		el.Value.(*tierEntry[K, V]).lastRead = now
		t.lru.MoveToFront(el)
	}
	t.mu.Unlock()

	return value, true
}

// EntryCount returns the current number of entries. Eventually consistent
// under concurrent mutation.
func (t *Tier[K, V]) EntryCount() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint64(len(t.items))
}

// WeightedSize returns the current sum of per-entry weights.
func (t *Tier[K, V]) WeightedSize() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.weight
}

// RunPendingMaintenance synchronously evicts expired, idle and over-cap
// entries. Safe to call at arbitrary intervals, or never, concurrently with
// ordinary traffic.
func (t *Tier[K, V]) RunPendingMaintenance() {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for el := t.lru.Back(); el != nil; {
		prev := el.Prev()
		if t.expired(el.Value.(*tierEntry[K, V]), now) {
			t.removeLocked(el)
		}
		el = prev
	}

	for t.overCapLocked() {
		victim := t.victimLocked()
		if victim == nil {
			break
		}
		t.removeLocked(victim)
	}
}

// InvalidateAll empties the tier immediately.
func (t *Tier[K, V]) InvalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.items = make(map[K]*list.Element)
	t.lru.Init()
	t.weight = 0
}

func (t *Tier[K, V]) weigh(value V) uint64 {
	if t.weigher == nil {
		return 1
	}
	return t.weigher(value)
}

func (t *Tier[K, V]) expired(ent *tierEntry[K, V], now time.Time) bool {
	if t.cfg.TTL > 0 && !now.Before(ent.insertedAt.Add(t.cfg.TTL)) {
		return true
	}
	if t.cfg.IdleTimeout > 0 && !now.Before(ent.lastRead.Add(t.cfg.IdleTimeout)) {
		return true
	}
	return false
}

func (t *Tier[K, V]) overCapLocked() bool {
	if uint64(len(t.items)) > t.cfg.MaxEntries {
		return true
	}
	return t.cfg.MaxWeight > 0 && t.weight > t.cfg.MaxWeight
}

// evictLocked brings the tier back under its caps: expired entries first,
// then LRU victims. Caller must hold the write lock.
func (t *Tier[K, V]) evictLocked(now time.Time) {
	if !t.overCapLocked() {
		return
	}

	for el := t.lru.Back(); el != nil && t.overCapLocked(); {
		prev := el.Prev()
		if t.expired(el.Value.(*tierEntry[K, V]), now) {
			t.removeLocked(el)
		}
		el = prev
	}

	for t.overCapLocked() {
		victim := t.victimLocked()
		if victim == nil {
			break
		}
		t.removeLocked(victim)
	}
}

// victimLocked picks the next capacity-eviction victim: the LRU entry,
// except that among entries sharing the same last-read time the heaviest
// one goes first. Caller must hold the write lock.
func (t *Tier[K, V]) victimLocked() *list.Element {
	back := t.lru.Back()
	if back == nil {
		return nil
	}

	victim := back
	last := back.Value.(*tierEntry[K, V]).lastRead

	for el := back; el != nil; el = el.Prev() {
		ent := el.Value.(*tierEntry[K, V])
		if !ent.lastRead.Equal(last) {
			break
		}
		if ent.weight > victim.Value.(*tierEntry[K, V]).weight {
			victim = el
		}
	}

	return victim
}

// removeLocked removes an entry and releases its weight. Caller must hold
// the write lock.
func (t *Tier[K, V]) removeLocked(el *list.Element) {
	ent := el.Value.(*tierEntry[K, V])
	t.lru.Remove(el)
	delete(t.items, ent.key)
	t.weight -= ent.weight
}
