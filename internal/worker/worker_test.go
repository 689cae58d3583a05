package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_ProcessesJobs(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(3, 10, func(_ context.Context, _ Job) error {
		processed.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := 0; i < 25; i++ {
		pool.Submit(i)
	}
	pool.Stop()

	if got := processed.Load(); got != 25 {
		t.Errorf("expected 25 processed jobs, got %d", got)
	}
}

func TestPool_ProcessorErrorsDoNotStopWorkers(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(2, 5, func(_ context.Context, job Job) error {
		processed.Add(1)
		if job.(int)%2 == 0 {
			return errors.New("boom")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := 0; i < 10; i++ {
		pool.Submit(i)
	}
	pool.Stop()

	if got := processed.Load(); got != 10 {
		t.Errorf("expected all 10 jobs attempted, got %d", got)
	}
}

func TestPool_StopWaitsForInFlight(t *testing.T) {
	var mu sync.Mutex
	var order []int

	pool := NewPool(1, 5, func(_ context.Context, job Job) error {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		order = append(order, job.(int))
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := 0; i < 3; i++ {
		pool.Submit(i)
	}
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 jobs drained before Stop returned, got %d", len(order))
	}
}

func TestPool_ContextCancelStopsWorkers(t *testing.T) {
	pool := NewPool(2, 5, func(_ context.Context, _ Job) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		pool.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not exit on context cancel")
	}
}
