package banops

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueBanIntents is the Redis list key for pending ban intents.
	QueueBanIntents = "banops:intents"
	// QueueDLQ is the dead-letter queue for intents that exhausted retries.
	QueueDLQ = "banops:dlq"
	// MaxRetries is the number of failed attempts (the first try included)
	// after which an intent moves to the DLQ. Side-effect completion flags make retries no-ops for
	// steps that already succeeded.
	MaxRetries = 3
)

// Job is the queue envelope wrapping one Intent.
type Job struct {
	ID        string    `json:"id"`
	Intent    Intent    `json:"intent"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}

// Queue is the Redis-list-backed internal event bus carrying ban intents
// from the sequencer to the side-effect worker.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a Redis-backed intent queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueBanIntent implements IntentBus.
func (q *Queue) EnqueueBanIntent(ctx context.Context, intent Intent) error {
	job := Job{
		ID:        uuid.New().String(),
		Intent:    intent,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueBanIntents, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued ban intent",
		zap.String("job_id", job.ID),
		zap.Int64("op_id", intent.OpID),
		zap.String("target_account", intent.TargetAccount),
	)
	return nil
}

// Dequeue blocks until a job is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, 0, QueueBanIntents).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid ban intent payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries,
// pushes to the DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("ban intent moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueBanIntents, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("ban intent retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
