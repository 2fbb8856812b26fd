package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"telegram-outreach-fleet/internal/domain/model"
	"telegram-outreach-fleet/internal/domain/ports/queue"
)

const (
	queueKeyPrefix      = "queue:"
	processingKeyPrefix = "processing:"
	retryKeyPrefix      = "retry:"
	claimKeyPrefix      = "claim:"
	deadLetterKey       = "dead_letter"

	statsEnqueuedKey  = "stats:enqueued"
	statsCompletedKey = "stats:completed"
	statsFailedKey    = "stats:failed"
)

// TaskQueue is the Redis-backed durable per-account FIFO. Tasks wait in
// queue:<account>, sit in the processing:<account> hash while in flight,
// and land in dead_letter once their retry budget is spent. Retries wait
// out their backoff in a retry:<account> sorted set scored by ready time
// and are promoted to the queue head on the next Dequeue. Dequeue moves
// the task through a claim:<account> list via BRPOPLPUSH, so at every
// instant the task lives in exactly one structure and a crash anywhere
// leaves it recoverable.
type TaskQueue struct {
	cli *redis.Client
	log *zerolog.Logger
}

var _ queue.TaskQueueStore = (*TaskQueue)(nil)

func NewTaskQueue(c *Client, logger *zerolog.Logger) *TaskQueue {
	l := logger.With().Str("component", "TaskQueue").Logger()
	return &TaskQueue{cli: c.cli, log: &l}
}

func queueKey(accountID string) string      { return queueKeyPrefix + accountID }
func processingKey(accountID string) string { return processingKeyPrefix + accountID }
func retryKey(accountID string) string      { return retryKeyPrefix + accountID }
func claimKey(accountID string) string      { return claimKeyPrefix + accountID }

func (q *TaskQueue) Enqueue(ctx context.Context, task *model.Task, priority bool) error {
	payload, err := task.Marshal()
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	pipe := q.cli.TxPipeline()
	if priority {
		// BRPOP consumes from the right, so the right end is the head.
		pipe.RPush(ctx, queueKey(task.AccountID), payload)
	} else {
		pipe.LPush(ctx, queueKey(task.AccountID), payload)
	}
	pipe.HIncrBy(ctx, statsEnqueuedKey, task.AccountID, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// luaPromoteRetries moves every due entry of the retry set to the head of
// the account queue.
var luaPromoteRetries = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for i = 1, #due do
	redis.call("RPUSH", KEYS[2], due[i])
	redis.call("ZREM", KEYS[1], due[i])
end
return #due`)

// luaClaimToProcessing files a claimed payload into the processing hash and
// drops it from the claim list in one step.
var luaClaimToProcessing = redis.NewScript(`
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("LREM", KEYS[1], 1, ARGV[2])
return 1`)

func (q *TaskQueue) Dequeue(ctx context.Context, accountID string, timeout time.Duration) (*model.Task, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if _, err := luaPromoteRetries.Run(ctx, q.cli, []string{retryKey(accountID), queueKey(accountID)}, now).Result(); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("promote retries for %s: %w", accountID, err)
	}

	// BRPOPLPUSH claims the task atomically: it is never outside both the
	// queue and the claim list, so a crash here cannot lose it.
	payload, err := q.cli.BRPopLPush(ctx, queueKey(accountID), claimKey(accountID), timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue for %s: %w", accountID, err)
	}
	task, err := model.UnmarshalTask([]byte(payload))
	if err != nil {
		// Malformed payloads go straight to the dead-letter lane so the
		// queue never wedges on them.
		q.log.Error().Err(err).Str("account_id", accountID).Msg("dropping malformed task payload")
		pipe := q.cli.TxPipeline()
		pipe.LRem(ctx, claimKey(accountID), 1, payload)
		pipe.LPush(ctx, deadLetterKey, payload)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("dead-letter malformed payload for %s: %w", accountID, err)
		}
		return nil, nil
	}
	if _, err := luaClaimToProcessing.Run(ctx, q.cli, []string{claimKey(accountID), processingKey(accountID)}, task.ID, payload).Result(); err != nil {
		return nil, fmt.Errorf("mark task %s in flight: %w", task.ID, err)
	}
	return task, nil
}

func (q *TaskQueue) Complete(ctx context.Context, task *model.Task) error {
	pipe := q.cli.TxPipeline()
	pipe.HDel(ctx, processingKey(task.AccountID), task.ID)
	pipe.HIncrBy(ctx, statsCompletedKey, task.AccountID, 1)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *TaskQueue) Fail(ctx context.Context, task *model.Task, taskErr error, retry bool) error {
	if taskErr != nil {
		task.LastError = taskErr.Error()
	}
	if retry && task.CanRetry() {
		// Backoff is indexed by the attempt that just failed, so compute
		// it before bumping the count: 10s, then 20s, 40s, capped.
		backoff := task.RetryBackoff()
		task.RetryCount++
		readyAt := time.Now().Add(backoff).Unix()
		payload, err := task.Marshal()
		if err != nil {
			return fmt.Errorf("marshal retry %s: %w", task.ID, err)
		}
		pipe := q.cli.TxPipeline()
		pipe.HDel(ctx, processingKey(task.AccountID), task.ID)
		pipe.ZAdd(ctx, retryKey(task.AccountID), &redis.Z{Score: float64(readyAt), Member: payload})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("schedule retry %s: %w", task.ID, err)
		}
		q.log.Debug().Str("task_id", task.ID).Int("retry", task.RetryCount).Msg("task scheduled for retry")
		return nil
	}

	payload, err := task.Marshal()
	if err != nil {
		return fmt.Errorf("marshal dead letter %s: %w", task.ID, err)
	}
	pipe := q.cli.TxPipeline()
	pipe.HDel(ctx, processingKey(task.AccountID), task.ID)
	pipe.LPush(ctx, deadLetterKey, payload)
	pipe.HIncrBy(ctx, statsFailedKey, task.AccountID, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-letter task %s: %w", task.ID, err)
	}
	q.log.Warn().Str("task_id", task.ID).Str("account_id", task.AccountID).Str("error", task.LastError).Msg("task moved to dead letter")
	return nil
}

func (q *TaskQueue) RecoverProcessingTasks(ctx context.Context) (int, error) {
	recovered := 0
	var cursor uint64
	for {
		keys, next, err := q.cli.Scan(ctx, cursor, processingKeyPrefix+"*", 100).Result()
		if err != nil {
			return recovered, fmt.Errorf("scan processing keys: %w", err)
		}
		for _, key := range keys {
			entries, err := q.cli.HGetAll(ctx, key).Result()
			if err != nil {
				return recovered, fmt.Errorf("read %s: %w", key, err)
			}
			accountID := key[len(processingKeyPrefix):]
			for id, payload := range entries {
				pipe := q.cli.TxPipeline()
				pipe.RPush(ctx, queueKey(accountID), payload)
				pipe.HDel(ctx, key, id)
				if _, err := pipe.Exec(ctx); err != nil {
					return recovered, fmt.Errorf("requeue %s: %w", id, err)
				}
				recovered++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	// Tasks caught mid-claim (crash between BRPOPLPUSH and the move into
	// the processing hash) go back to the queue head too.
	cursor = 0
	for {
		keys, next, err := q.cli.Scan(ctx, cursor, claimKeyPrefix+"*", 100).Result()
		if err != nil {
			return recovered, fmt.Errorf("scan claim keys: %w", err)
		}
		for _, key := range keys {
			payloads, err := q.cli.LRange(ctx, key, 0, -1).Result()
			if err != nil {
				return recovered, fmt.Errorf("read %s: %w", key, err)
			}
			if len(payloads) == 0 {
				continue
			}
			accountID := key[len(claimKeyPrefix):]
			pipe := q.cli.TxPipeline()
			// Newest claim first, so the oldest ends up at the head.
			for _, payload := range payloads {
				pipe.RPush(ctx, queueKey(accountID), payload)
			}
			pipe.Del(ctx, key)
			if _, err := pipe.Exec(ctx); err != nil {
				return recovered, fmt.Errorf("requeue claims for %s: %w", accountID, err)
			}
			recovered += len(payloads)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if recovered > 0 {
		q.log.Info().Int("count", recovered).Msg("recovered in-flight tasks")
	}
	return recovered, nil
}

// Depth counts queued work for the account: the ready queue plus retries
// waiting out their backoff. In-flight tasks are not counted.
func (q *TaskQueue) Depth(ctx context.Context, accountID string) (int64, error) {
	pipe := q.cli.TxPipeline()
	llen := pipe.LLen(ctx, queueKey(accountID))
	zcard := pipe.ZCard(ctx, retryKey(accountID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return llen.Val() + zcard.Val(), nil
}

func (q *TaskQueue) Stats(ctx context.Context) (*queue.Stats, error) {
	s := &queue.Stats{
		Enqueued:  map[string]int64{},
		Completed: map[string]int64{},
		Failed:    map[string]int64{},
	}
	for key, dst := range map[string]map[string]int64{
		statsEnqueuedKey:  s.Enqueued,
		statsCompletedKey: s.Completed,
		statsFailedKey:    s.Failed,
	} {
		entries, err := q.cli.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		for account, raw := range entries {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			dst[account] = n
		}
	}
	dlq, err := q.cli.LLen(ctx, deadLetterKey).Result()
	if err != nil {
		return nil, err
	}
	s.DLQSize = dlq
	return s, nil
}
