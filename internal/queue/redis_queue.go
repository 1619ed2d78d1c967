package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTimeout = errors.New("queue timeout")

const defaultQueueName = "pipeline_jobs"

// Task is the queue envelope. Parameters live on the job row; the envelope
// only names the job to run.
type Task struct {
	JobID     string    `json:"job_id"`
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id"`
	Priority  int       `json:"priority"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}

type RedisQueue struct {
	client       *redis.Client
	queueName    string
	pollInterval time.Duration
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:    client,
		queueName: defaultQueueName,
	}
}

// WithPolling makes Pop poll ZPOPMIN every interval instead of blocking on
// BZPOPMIN. A zero interval keeps the blocking pop.
func (q *RedisQueue) WithPolling(interval time.Duration) *RedisQueue {
	q.pollInterval = interval
	return q
}

func (q *RedisQueue) Push(ctx context.Context, task *Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	// Lower score pops first; unprioritized tasks run in arrival order.
	score := float64(task.Priority)
	if score == 0 {
		score = float64(task.CreatedAt.UnixNano()) / 1e9
	}

	err = q.client.ZAdd(ctx, q.queueName, redis.Z{
		Score:  score,
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push task: %w", err)
	}

	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Task, error) {
	if q.pollInterval > 0 {
		return q.poll(ctx, timeout)
	}

	result, err := q.client.BZPopMin(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to pop task: %w", err)
	}

	return decodeTask(result.Member)
}

func (q *RedisQueue) poll(ctx context.Context, timeout time.Duration) (*Task, error) {
	deadline := time.Now().Add(timeout)
	for {
		result, err := q.client.ZPopMin(ctx, q.queueName, 1).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to pop task: %w", err)
		}
		if len(result) > 0 {
			return decodeTask(result[0].Member)
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, ErrTimeout
		}
		if wait > q.pollInterval {
			wait = q.pollInterval
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func decodeTask(member interface{}) (*Task, error) {
	data, ok := member.(string)
	if !ok {
		return nil, errors.New("invalid result from queue")
	}

	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueName).Result()
}
