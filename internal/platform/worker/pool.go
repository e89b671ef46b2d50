// Package worker provides a generic worker pool for concurrent task
// execution.
package worker

import (
	"context"
	"sync"
)

// Job is a unit of work executed by the pool.
type Job[T any] struct {
	// ID identifies the job in results and logs.
	ID string
	// Execute runs the work. It receives the pool's context.
	Execute func(ctx context.Context) (T, error)
}

// Result is the outcome of one job.
type Result[T any] struct {
	JobID string
	Value T
	Err   error
}

// Pool runs jobs on a fixed number of worker goroutines.
type Pool[T any] struct {
	workers  int
	jobQueue chan Job[T]
	results  chan Result[T]
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewPool starts a pool with the given number of workers. queueSize buffers
// both the job queue and the results channel.
func NewPool[T any](ctx context.Context, workers, queueSize int) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool[T]{
		workers:  workers,
		jobQueue: make(chan Job[T], queueSize),
		results:  make(chan Result[T], queueSize),
		ctx:      poolCtx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			value, err := job.Execute(p.ctx)
			select {
			case p.results <- Result[T]{JobID: job.ID, Value: value, Err: err}:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a job. It blocks while the queue is full and returns an
// error only when the pool's context is cancelled.
func (p *Pool[T]) Submit(job Job[T]) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		return nil
	}
}

// SubmitAndWait submits the jobs and collects one result per submitted job,
// in completion order. Submission runs concurrently with collection so a
// batch larger than the queue cannot deadlock. On cancellation it returns
// whatever results have arrived.
func (p *Pool[T]) SubmitAndWait(jobs []Job[T]) []Result[T] {
	submitted := make(chan int, 1)
	go func() {
		n := 0
		for _, job := range jobs {
			if err := p.Submit(job); err != nil {
				break
			}
			n++
		}
		submitted <- n
	}()

	results := make([]Result[T], 0, len(jobs))
	want := -1
	for want < 0 || len(results) < want {
		select {
		case r := <-p.results:
			results = append(results, r)
		case n := <-submitted:
			want = n
		case <-p.ctx.Done():
			return results
		}
	}

	return results
}

// Close stops the workers and waits for them to exit. Pending queued jobs
// are abandoned.
func (p *Pool[T]) Close() {
	p.cancel()
	p.wg.Wait()
}
