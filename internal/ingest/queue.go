package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskIngestBatch is the queue task type carrying one intake batch.
const TaskIngestBatch = "ingest:batch"

type batchPayload struct {
	Records []Record `json:"records"`
}

// Queue enqueues intake batches onto the durable task queue.
type Queue struct {
	client   *asynq.Client
	maxRetry int
}

func NewQueue(redisAddr, password string, db, maxRetry int) *Queue {
	return &Queue{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: password,
			DB:       db,
		}),
		maxRetry: maxRetry,
	}
}

// EnqueueBatch hands a batch to the broker. An error here means the broker is
// unreachable; the intake endpoint translates that to 503.
func (q *Queue) EnqueueBatch(ctx context.Context, records []Record) error {
	raw, err := json.Marshal(batchPayload{Records: records})
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}
	task := asynq.NewTask(TaskIngestBatch, raw)
	if _, err := q.client.EnqueueContext(ctx, task, asynq.MaxRetry(q.maxRetry)); err != nil {
		return fmt.Errorf("enqueueing batch: %w", err)
	}
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// HandleBatchTask adapts the worker to the queue's handler contract.
// Returning an error requeues the task for retry.
func (w *Worker) HandleBatchTask(ctx context.Context, t *asynq.Task) error {
	var p batchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decoding batch task: %w", err)
	}
	return w.Process(ctx, p.Records)
}
