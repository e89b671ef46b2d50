package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/senzenn/solana-indexer/internal/cache"
)

// mockSource is an AccountSource backed by a map, counting fetches.
type mockSource struct {
	mu       sync.Mutex
	accounts map[string]cache.AccountRecord
	fetches  int
	err      error
}

func (s *mockSource) FetchAccount(ctx context.Context, pubkey string) (cache.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return cache.AccountRecord{}, s.err
	}
	rec, ok := s.accounts[pubkey]
	if !ok {
		return cache.AccountRecord{}, errors.New("account not found")
	}
	return rec, nil
}

func (s *mockSource) set(rec cache.AccountRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[rec.Pubkey] = rec
}

func (s *mockSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func newTestWatcher(t *testing.T, accounts []string, src AccountSource) (*Watcher, *cache.Manager) {
	t.Helper()

	manager := cache.NewManager(cache.ManagerConfig{})
	w, err := New(Config{
		Accounts:     accounts,
		PollInterval: time.Second,
		Manager:      manager,
		Source:       src,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return w, manager
}

func TestNewValidation(t *testing.T) {
	src := &mockSource{accounts: map[string]cache.AccountRecord{}}

	if _, err := New(Config{Source: src}); err == nil {
		t.Error("expected error when manager is missing")
	}
	if _, err := New(Config{Manager: cache.NewManager(cache.ManagerConfig{})}); err == nil {
		t.Error("expected error when source is missing")
	}

	t.Log("✓ constructor validation works")
}

func TestLookupCachesOnMiss(t *testing.T) {
	ctx := context.Background()
	src := &mockSource{accounts: map[string]cache.AccountRecord{}}
	src.set(cache.AccountRecord{Pubkey: "acct1", Lamports: 1_000_000, Owner: "owner1", DataLen: 128})

	w, manager := newTestWatcher(t, []string{"acct1"}, src)

	rec, err := w.lookup(ctx, "acct1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if rec.Lamports != 1_000_000 {
		t.Errorf("expected 1000000 lamports, got %d", rec.Lamports)
	}
	if src.fetchCount() != 1 {
		t.Errorf("expected 1 fetch, got %d", src.fetchCount())
	}

	// Second lookup should be served from the cache.
	if _, err := w.lookup(ctx, "acct1"); err != nil {
		t.Fatalf("cached lookup failed: %v", err)
	}
	if src.fetchCount() != 1 {
		t.Errorf("expected cache hit on second lookup, got %d fetches", src.fetchCount())
	}

	if cached, ok := manager.GetAccount(ctx, "acct1"); !ok || cached.Owner != "owner1" {
		t.Error("expected account to be cached after miss")
	}

	t.Log("✓ miss fetches from source and populates cache")
}

func TestDiffDetectsChanges(t *testing.T) {
	src := &mockSource{accounts: map[string]cache.AccountRecord{}}
	w, _ := newTestWatcher(t, []string{"acct1"}, src)

	base := cache.AccountRecord{Pubkey: "acct1", Lamports: 100, Owner: "owner1", DataLen: 64}

	// First observation establishes the baseline, no changes.
	if changes := w.diff("acct1", base); len(changes) != 0 {
		t.Errorf("expected no changes on first observation, got %d", len(changes))
	}

	// Identical snapshot, still no changes.
	if changes := w.diff("acct1", base); len(changes) != 0 {
		t.Errorf("expected no changes for identical snapshot, got %d", len(changes))
	}

	next := base
	next.Lamports = 250
	next.DataLen = 96

	changes := w.diff("acct1", next)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}

	fields := map[string]Change{}
	for _, c := range changes {
		fields[c.Field] = c
	}

	lam, ok := fields["lamports"]
	if !ok {
		t.Fatal("expected a lamports change")
	}
	if lam.LamportsBefore != 100 || lam.LamportsAfter != 250 {
		t.Errorf("lamports change: got %d -> %d, want 100 -> 250", lam.LamportsBefore, lam.LamportsAfter)
	}

	dl, ok := fields["data_len"]
	if !ok {
		t.Fatal("expected a data_len change")
	}
	if dl.DataLenBefore != 64 || dl.DataLenAfter != 96 {
		t.Errorf("data_len change: got %d -> %d, want 64 -> 96", dl.DataLenBefore, dl.DataLenAfter)
	}

	t.Log("✓ diff detects lamports and data length changes")
}

func TestDiffOwnerAndExecutable(t *testing.T) {
	src := &mockSource{accounts: map[string]cache.AccountRecord{}}
	w, _ := newTestWatcher(t, []string{"acct1"}, src)

	base := cache.AccountRecord{Pubkey: "acct1", Owner: "owner1"}
	w.diff("acct1", base)

	next := base
	next.Owner = "owner2"
	next.Executable = true

	changes := w.diff("acct1", next)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}

	seen := map[string]bool{}
	for _, c := range changes {
		seen[c.Field] = true
	}
	if !seen["owner"] || !seen["executable"] {
		t.Errorf("expected owner and executable changes, got %v", seen)
	}

	t.Log("✓ diff detects owner and executable changes")
}

func TestPollSkipsFailedLookups(t *testing.T) {
	ctx := context.Background()
	src := &mockSource{accounts: map[string]cache.AccountRecord{}}
	src.set(cache.AccountRecord{Pubkey: "good", Lamports: 5})

	w, manager := newTestWatcher(t, []string{"missing", "good"}, src)

	// One account fails, the other should still be observed.
	w.poll(ctx)

	if _, ok := manager.GetAccount(ctx, "good"); !ok {
		t.Error("expected good account to be cached despite failing sibling")
	}
	if _, ok := manager.GetAccount(ctx, "missing"); ok {
		t.Error("did not expect missing account to be cached")
	}

	t.Log("✓ poll continues past failed lookups")
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &mockSource{accounts: map[string]cache.AccountRecord{}}
	w, _ := newTestWatcher(t, []string{"acct1"}, src)
	w.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancel")
	}

	t.Log("✓ run stops on context cancellation")
}
