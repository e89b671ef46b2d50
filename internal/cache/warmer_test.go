package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockSlotSource serves a fixed current slot and per-slot leaders, with
// optional per-slot failures.
type mockSlotSource struct {
	mu          sync.Mutex
	current     uint64
	currentErr  error
	failSlots   map[uint64]bool
	failAll     bool
	leaderCalls int
}

func (s *mockSlotSource) CurrentSlot(ctx context.Context) (uint64, error) {
	if s.currentErr != nil {
		return 0, s.currentErr
	}
	return s.current, nil
}

func (s *mockSlotSource) SlotLeader(ctx context.Context, slot uint64) (string, error) {
	s.mu.Lock()
	s.leaderCalls++
	s.mu.Unlock()

	if s.failAll || s.failSlots[slot] {
		return "", errors.New("rpc unavailable")
	}
	return fmt.Sprintf("leader-%d", slot), nil
}

func newTestWarmer(t *testing.T, src SlotSource) (*Warmer, *Manager) {
	t.Helper()

	m := newTestManager()
	w, err := NewWarmer(WarmerConfig{Source: src, Manager: m, Concurrency: 2})
	if err != nil {
		t.Fatalf("NewWarmer failed: %v", err)
	}
	return w, m
}

func TestNewWarmerValidation(t *testing.T) {
	if _, err := NewWarmer(WarmerConfig{Manager: newTestManager()}); err == nil {
		t.Error("expected error without a slot source")
	}
	if _, err := NewWarmer(WarmerConfig{Source: &mockSlotSource{}}); err == nil {
		t.Error("expected error without a manager")
	}

	t.Log("✓ warmer constructor validation works")
}

func TestWarmRecentSlots(t *testing.T) {
	ctx := context.Background()
	src := &mockSlotSource{current: 1000}
	w, m := newTestWarmer(t, src)

	result, err := w.WarmRecentSlots(ctx, 10)
	if err != nil {
		t.Fatalf("WarmRecentSlots failed: %v", err)
	}

	if result.Requested != 10 {
		t.Errorf("expected 10 requested, got %d", result.Requested)
	}
	if result.Warmed != 10 {
		t.Errorf("expected 10 warmed, got %d", result.Warmed)
	}
	if result.Skipped != 0 {
		t.Errorf("expected 0 skipped, got %d", result.Skipped)
	}

	// Slots current..current-9 must now be cached with derived fields.
	for slot := uint64(991); slot <= 1000; slot++ {
		rec, ok := m.GetSlot(ctx, slot)
		if !ok {
			t.Errorf("expected slot %d cached", slot)
			continue
		}
		if rec.Leader != fmt.Sprintf("leader-%d", slot) {
			t.Errorf("slot %d: unexpected leader %s", slot, rec.Leader)
		}
		if !strings.HasPrefix(rec.BlockHash, "block_") {
			t.Errorf("slot %d: unexpected block hash %s", slot, rec.BlockHash)
		}
		wantConfirmed := slot < 998
		if rec.Confirmed != wantConfirmed {
			t.Errorf("slot %d: confirmed = %v, want %v", slot, rec.Confirmed, wantConfirmed)
		}
		wantFinalized := slot < 968
		if rec.Finalized != wantFinalized {
			t.Errorf("slot %d: finalized = %v, want %v", slot, rec.Finalized, wantFinalized)
		}
	}

	t.Log("✓ warmup caches recent slots with commitment flags")
}

func TestWarmRecentSlotsPartialFailure(t *testing.T) {
	ctx := context.Background()
	src := &mockSlotSource{
		current:   100,
		failSlots: map[uint64]bool{99: true, 97: true},
	}
	w, m := newTestWarmer(t, src)

	result, err := w.WarmRecentSlots(ctx, 5)
	if err != nil {
		t.Fatalf("WarmRecentSlots failed: %v", err)
	}

	if result.Warmed != 3 {
		t.Errorf("expected 3 warmed, got %d", result.Warmed)
	}
	if result.Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", result.Skipped)
	}

	// Failed slots are skipped, not cached.
	if _, ok := m.GetSlot(ctx, 99); ok {
		t.Error("expected failed slot 99 to be absent")
	}
	if _, ok := m.GetSlot(ctx, 98); !ok {
		t.Error("expected slot 98 to be cached")
	}

	t.Log("✓ per-slot failures are skipped without aborting the batch")
}

func TestWarmRecentSlotsNoProgress(t *testing.T) {
	ctx := context.Background()
	src := &mockSlotSource{current: 100, failAll: true}
	w, _ := newTestWarmer(t, src)

	result, err := w.WarmRecentSlots(ctx, 5)
	if err == nil {
		t.Fatal("expected error when no slot could be warmed")
	}
	if !errors.Is(err, ErrNoProgress) {
		t.Errorf("expected ErrNoProgress, got %v", err)
	}
	if result.Warmed != 0 || result.Skipped != 5 {
		t.Errorf("expected 0 warmed / 5 skipped, got %d / %d", result.Warmed, result.Skipped)
	}

	t.Log("✓ zero progress surfaces ErrNoProgress")
}

func TestWarmRecentSlotsCurrentSlotFailure(t *testing.T) {
	ctx := context.Background()
	src := &mockSlotSource{currentErr: errors.New("all endpoints down")}
	w, _ := newTestWarmer(t, src)

	if _, err := w.WarmRecentSlots(ctx, 5); err == nil {
		t.Error("expected error when the current slot cannot be determined")
	}
	if src.leaderCalls != 0 {
		t.Errorf("expected no leader lookups, got %d", src.leaderCalls)
	}

	t.Log("✓ current-slot failure aborts before any per-slot work")
}

func TestWarmRecentSlotsZeroCount(t *testing.T) {
	ctx := context.Background()
	src := &mockSlotSource{current: 100}
	w, _ := newTestWarmer(t, src)

	result, err := w.WarmRecentSlots(ctx, 0)
	if err != nil {
		t.Fatalf("expected no error for zero count, got %v", err)
	}
	if result.Warmed != 0 || result.Requested != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}

	t.Log("✓ zero-count warmup is a no-op")
}

// stalledSlotSource reports a current slot but never completes a leader
// lookup before the caller's context expires.
type stalledSlotSource struct {
	current uint64
}

func (s *stalledSlotSource) CurrentSlot(ctx context.Context) (uint64, error) {
	return s.current, nil
}

func (s *stalledSlotSource) SlotLeader(ctx context.Context, slot uint64) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestWarmRecentSlotsTimeoutBalances(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	w, err := NewWarmer(WarmerConfig{
		Source:      &stalledSlotSource{current: 100},
		Manager:     m,
		Concurrency: 2,
		Timeout:     50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWarmer failed: %v", err)
	}

	result, err := w.WarmRecentSlots(ctx, 5)
	if err == nil {
		t.Fatal("expected error when every lookup times out")
	}
	if !errors.Is(err, ErrNoProgress) {
		t.Errorf("expected ErrNoProgress, got %v", err)
	}

	// Slots cut off by the batch timeout count as skipped, never vanish.
	if result.Warmed != 0 {
		t.Errorf("expected 0 warmed, got %d", result.Warmed)
	}
	if result.Warmed+result.Skipped != result.Requested {
		t.Errorf("result does not balance: %d warmed + %d skipped != %d requested",
			result.Warmed, result.Skipped, result.Requested)
	}

	t.Log("✓ a timed-out batch accounts for every requested slot")
}

func TestWarmRecentSlotsNearGenesis(t *testing.T) {
	ctx := context.Background()
	src := &mockSlotSource{current: 3}
	w, m := newTestWarmer(t, src)

	// Only slots 3, 2, 1, 0 exist; the batch must not wrap below zero.
	result, err := w.WarmRecentSlots(ctx, 10)
	if err != nil {
		t.Fatalf("WarmRecentSlots failed: %v", err)
	}
	if result.Requested != 4 {
		t.Errorf("expected 4 requested near genesis, got %d", result.Requested)
	}
	if result.Warmed != 4 {
		t.Errorf("expected 4 warmed, got %d", result.Warmed)
	}
	if _, ok := m.GetSlot(ctx, 0); !ok {
		t.Error("expected genesis slot cached")
	}

	t.Log("✓ warmup clamps at slot zero")
}
