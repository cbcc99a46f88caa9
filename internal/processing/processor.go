// Package processing runs generation batches on in-process goroutines when no
// Redis queue is configured.
package processing

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/dharsanguruparan/nexuspass/internal/queue"
)

// ErrQueueFull is returned when every worker is busy and the buffer is full.
var ErrQueueFull = errors.New("generation queue full")

// BatchRunner runs one generation batch.
type BatchRunner interface {
	GenerateMissing(ctx context.Context) (int, error)
}

// Result is the outcome of a finished batch.
type Result struct {
	BatchID   string
	Generated int
	Err       error
}

// Processor consumes batches and runs them against the generator.
type Processor struct {
	runner  BatchRunner
	queue   chan queue.GeneratePayload
	workers int
	// done receives every finished batch when non-nil; tests use it to wait.
	done chan<- Result
	wg   sync.WaitGroup
}

// New builds a Processor with queue capacity tied to worker count.
func New(runner BatchRunner, workers int) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		runner:  runner,
		queue:   make(chan queue.GeneratePayload, workers*4),
		workers: workers,
	}
}

// Notify registers a channel that receives the result of each batch.
func (p *Processor) Notify(done chan<- Result) {
	p.done = done
}

// Start launches worker goroutines that stop when ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Dispatch queues a batch without blocking the caller.
func (p *Processor) Dispatch(_ context.Context, payload queue.GeneratePayload) (string, error) {
	select {
	case p.queue <- payload:
		return payload.BatchID, nil
	default:
		log.Printf("processor queue full, dropping batch %s", payload.BatchID)
		return "", ErrQueueFull
	}
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-p.queue:
			p.process(ctx, payload)
		}
	}
}

func (p *Processor) process(ctx context.Context, payload queue.GeneratePayload) {
	n, err := p.runner.GenerateMissing(ctx)
	if err != nil {
		log.Printf("batch %s failed after %d codes: %v", payload.BatchID, n, err)
	} else {
		log.Printf("batch %s generated %d codes", payload.BatchID, n)
	}
	if p.done != nil {
		p.done <- Result{BatchID: payload.BatchID, Generated: n, Err: err}
	}
}
