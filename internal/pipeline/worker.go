package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// RequeueSource lists receipts that need a worker: fresh pending rows and
// scanning rows whose claim has gone stale (worker crash or restart).
type RequeueSource interface {
	ListRequeueable(ctx context.Context, staleAfter time.Duration, limit int) ([]uuid.UUID, error)
}

// WorkerPool fans receipt IDs out to a fixed set of pipeline workers over a
// bounded channel. Enqueue never blocks the caller; a full queue is fine
// because the requeue poller re-discovers anything that was dropped.
type WorkerPool struct {
	orch            *Orchestrator
	source          RequeueSource
	queue           chan uuid.UUID
	workers         int
	requeueInterval time.Duration
	staleAfter      time.Duration
}

// NewWorkerPool creates a pool; call Start to begin processing
func NewWorkerPool(orch *Orchestrator, source RequeueSource, workers, queueSize int, requeueInterval, staleAfter time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &WorkerPool{
		orch:            orch,
		source:          source,
		queue:           make(chan uuid.UUID, queueSize),
		workers:         workers,
		requeueInterval: requeueInterval,
		staleAfter:      staleAfter,
	}
}

// Start launches the workers and the requeue poller. All goroutines exit
// when ctx is cancelled.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
	go p.requeueLoop(ctx)
	log.Printf("Receipt pipeline started with %d workers", p.workers)
}

// Enqueue hands a receipt to the pool. Returns false when the queue is full;
// the receipt stays pending and the poller picks it up on the next tick.
func (p *WorkerPool) Enqueue(id uuid.UUID) bool {
	select {
	case p.queue <- id:
		return true
	default:
		return false
	}
}

func (p *WorkerPool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			if _, err := p.orch.Process(ctx, id); err != nil {
				// Infrastructure failure. The claim goes stale and the
				// poller retries the receipt later.
				log.Printf("Warning: Pipeline run failed for receipt %s: %v", id, err)
			}
		}
	}
}

func (p *WorkerPool) requeueLoop(ctx context.Context) {
	ticker := time.NewTicker(p.requeueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := p.source.ListRequeueable(ctx, p.staleAfter, cap(p.queue))
			if err != nil {
				log.Printf("Warning: Failed to list requeueable receipts: %v", err)
				continue
			}
			for _, id := range ids {
				if !p.Enqueue(id) {
					break
				}
			}
		}
	}
}
