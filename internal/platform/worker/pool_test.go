package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolSubmitAndWait(t *testing.T) {
	ctx := context.Background()
	pool := NewPool[int](ctx, 4, 8)
	defer pool.Close()

	jobs := make([]Job[int], 10)
	for i := 0; i < 10; i++ {
		n := i
		jobs[i] = Job[int]{
			ID:      fmt.Sprintf("job-%d", n),
			Execute: func(ctx context.Context) (int, error) { return n * 2, nil },
		}
	}

	results := pool.SubmitAndWait(jobs)
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}

	values := make([]int, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("job %s: unexpected error: %v", r.JobID, r.Err)
		}
		values = append(values, r.Value)
	}
	sort.Ints(values)
	for i, v := range values {
		if v != i*2 {
			t.Errorf("expected value %d, got %d", i*2, v)
		}
	}

	t.Log("✓ pool returns one result per job")
}

func TestPoolBatchLargerThanQueue(t *testing.T) {
	ctx := context.Background()
	// Queue of 1 with a 50-job batch: submission must interleave with
	// collection instead of deadlocking.
	pool := NewPool[int](ctx, 2, 1)
	defer pool.Close()

	jobs := make([]Job[int], 50)
	for i := range jobs {
		n := i
		jobs[i] = Job[int]{
			ID:      fmt.Sprintf("job-%d", n),
			Execute: func(ctx context.Context) (int, error) { return n, nil },
		}
	}

	done := make(chan []Result[int], 1)
	go func() { done <- pool.SubmitAndWait(jobs) }()

	select {
	case results := <-done:
		if len(results) != 50 {
			t.Errorf("expected 50 results, got %d", len(results))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SubmitAndWait deadlocked on a batch larger than the queue")
	}

	t.Log("✓ oversized batches complete without deadlock")
}

func TestPoolJobErrorsPropagated(t *testing.T) {
	ctx := context.Background()
	pool := NewPool[string](ctx, 2, 4)
	defer pool.Close()

	wantErr := errors.New("boom")
	jobs := []Job[string]{
		{ID: "ok", Execute: func(ctx context.Context) (string, error) { return "fine", nil }},
		{ID: "bad", Execute: func(ctx context.Context) (string, error) { return "", wantErr }},
	}

	results := pool.SubmitAndWait(jobs)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	var failed, succeeded int
	for _, r := range results {
		if r.Err != nil {
			failed++
			if !errors.Is(r.Err, wantErr) {
				t.Errorf("expected wrapped boom, got %v", r.Err)
			}
		} else {
			succeeded++
		}
	}
	if failed != 1 || succeeded != 1 {
		t.Errorf("expected 1 failure and 1 success, got %d / %d", failed, succeeded)
	}

	t.Log("✓ job errors are carried in results")
}

func TestPoolSubmitAfterClose(t *testing.T) {
	pool := NewPool[int](context.Background(), 1, 1)
	pool.Close()

	err := pool.Submit(Job[int]{
		ID:      "late",
		Execute: func(ctx context.Context) (int, error) { return 0, nil },
	})
	if err == nil {
		t.Error("expected error submitting to a closed pool")
	}

	t.Log("✓ submit fails after close")
}

func TestPoolCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool[int](ctx, 1, 1)
	defer pool.Close()

	var started atomic.Int32
	block := make(chan struct{})
	jobs := make([]Job[int], 5)
	for i := range jobs {
		jobs[i] = Job[int]{
			ID: fmt.Sprintf("job-%d", i),
			Execute: func(ctx context.Context) (int, error) {
				started.Add(1)
				select {
				case <-block:
					return 1, nil
				case <-ctx.Done():
					return 0, ctx.Err()
				}
			},
		}
	}

	done := make(chan []Result[int], 1)
	go func() { done <- pool.SubmitAndWait(jobs) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case results := <-done:
		if len(results) >= 5 && started.Load() < 5 {
			t.Errorf("got %d results from %d started jobs", len(results), started.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SubmitAndWait did not return after cancellation")
	}

	t.Log("✓ cancellation drains the batch without hanging")
}
