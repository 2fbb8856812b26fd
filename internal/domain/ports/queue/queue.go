package queue

import (
	"context"
	"time"

	"telegram-outreach-fleet/internal/domain/model"
)

// Stats is the per-fleet queue roll-up.
type Stats struct {
	Enqueued  map[string]int64 // account id → count
	Completed map[string]int64
	Failed    map[string]int64
	DLQSize   int64
}

// TaskQueueStore is the durable per-account FIFO fabric. Within one account
// order is FIFO except priority pushes, which jump to the head. A dequeued
// task sits in the in-flight set until Complete or Fail; tasks left in
// flight are re-enqueued at the head by RecoverProcessingTasks on startup.
type TaskQueueStore interface {
	// Enqueue pushes to the tail, or to the head when priority is set.
	Enqueue(ctx context.Context, task *model.Task, priority bool) error
	// Dequeue blocks up to timeout for the account's next task and
	// atomically moves it into the in-flight set. Returns nil on timeout.
	Dequeue(ctx context.Context, accountID string, timeout time.Duration) (*model.Task, error)
	// Complete removes the task from the in-flight set.
	Complete(ctx context.Context, task *model.Task) error
	// Fail removes the task from the in-flight set and either re-enqueues
	// it at the head after the capped exponential backoff, or pushes it to
	// the dead-letter lane when retries are exhausted or retry is false.
	Fail(ctx context.Context, task *model.Task, taskErr error, retry bool) error
	// RecoverProcessingTasks re-enqueues every in-flight task at the head
	// of its account queue. Run once at startup.
	RecoverProcessingTasks(ctx context.Context) (int, error)
	// Depth reports the queued (not in-flight) task count for an account.
	Depth(ctx context.Context, accountID string) (int64, error)
	Stats(ctx context.Context) (*Stats, error)
}
