package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// GenerateCodesTask runs one idempotent generation batch over the directory.
	GenerateCodesTask = "codes:generate"
)

// ErrBatchPending is returned when an identical batch is already queued.
var ErrBatchPending = errors.New("a generation batch is already pending")

// GeneratePayload is serialized into the task payload. The batch itself takes
// no input; the fields only make logs traceable.
type GeneratePayload struct {
	BatchID     string    `json:"batch_id"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewGeneratePayload stamps a new batch id.
func NewGeneratePayload(requestedBy string) GeneratePayload {
	return GeneratePayload{
		BatchID:     uuid.NewString(),
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
	}
}

// NewGenerateTask builds the asynq task. Unique keeps scanners hammering the
// button from stacking identical batches; rerunning is safe anyway.
func NewGenerateTask(payload GeneratePayload, uniqueFor time.Duration, maxRetry int) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{asynq.MaxRetry(maxRetry), asynq.TaskID(payload.BatchID)}
	if uniqueFor > 0 {
		opts = append(opts, asynq.Unique(uniqueFor))
	}
	return asynq.NewTask(GenerateCodesTask, data, opts...), nil
}

// ParseGeneratePayload decodes a task payload.
func ParseGeneratePayload(task *asynq.Task) (GeneratePayload, error) {
	var payload GeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return GeneratePayload{}, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// Dispatcher enqueues generation batches on Redis through asynq.
type Dispatcher struct {
	client    *asynq.Client
	uniqueFor time.Duration
	maxRetry  int
}

// NewDispatcher wraps an asynq client.
func NewDispatcher(client *asynq.Client, uniqueFor time.Duration, maxRetry int) *Dispatcher {
	return &Dispatcher{client: client, uniqueFor: uniqueFor, maxRetry: maxRetry}
}

// Dispatch enqueues a batch and returns its id.
func (d *Dispatcher) Dispatch(ctx context.Context, payload GeneratePayload) (string, error) {
	task, err := NewGenerateTask(payload, d.uniqueFor, d.maxRetry)
	if err != nil {
		return "", err
	}
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			return "", ErrBatchPending
		}
		return "", fmt.Errorf("enqueue generate task: %w", err)
	}
	return info.ID, nil
}
