package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/terralab/landcrawler/internal/land"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*Worker
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(queue Queue, workers []*Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item land.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
