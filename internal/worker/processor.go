package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/nexuspass/internal/checkin"
	"github.com/dharsanguruparan/nexuspass/internal/queue"
)

// BatchRunner runs one generation batch.
type BatchRunner interface {
	GenerateMissing(ctx context.Context) (int, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	runner BatchRunner
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner BatchRunner) *Processor {
	return &Processor{runner: runner}
}

// Handler registers the generation job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.GenerateCodesTask, p.handleGenerate)
	return mux
}

func (p *Processor) handleGenerate(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseGeneratePayload(task)
	if err != nil {
		// A payload that cannot be decoded will not decode on retry either.
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	n, err := p.runner.GenerateMissing(ctx)
	if err != nil {
		var batch *checkin.BatchError
		if errors.As(err, &batch) {
			// Retrying is safe: issued attendees are skipped on the next run.
			log.Printf("batch %s stopped after %d codes: %v", payload.BatchID, batch.Generated, err)
		} else {
			log.Printf("batch %s failed: %v", payload.BatchID, err)
		}
		return err
	}
	log.Printf("batch %s (requested by %s) generated %d codes", payload.BatchID, payload.RequestedBy, n)
	return nil
}
