package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Job is one unit of ingest work, typically a reading waiting to be persisted.
type Job any

type ProcessFunc func(ctx context.Context, job Job) error

// Pool runs a fixed number of workers draining a bounded job queue. Writes to
// the store go through here so a slow storage layer backpressures the pollers
// instead of spawning unbounded goroutines.
type Pool struct {
	numWorkers int
	jobs       chan Job
	processor  ProcessFunc
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, bufferSize int, processor ProcessFunc) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, bufferSize),
		processor:  processor,
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := p.processor(ctx, job); err != nil {
				slog.Debug("job failed", "error", err)
			}
		}
	}
}

// Submit blocks while the queue is full.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}
