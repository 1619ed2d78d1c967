package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Progress is the fire-and-forget notification emitted while a job runs.
type Progress struct {
	JobID   string  `json:"job_id"`
	Status  string  `json:"status"`
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// Sink delivers progress events without any delivery guarantee.
type Sink interface {
	Publish(ctx context.Context, p Progress) error
}

func Channel(jobID string) string {
	return fmt.Sprintf("jobs:%s:progress", jobID)
}

// RedisSink publishes events on a per-job pub/sub channel.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Publish(ctx context.Context, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	if err := s.client.Publish(ctx, Channel(p.JobID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish progress: %w", err)
	}
	return nil
}

func (s *RedisSink) Subscribe(ctx context.Context, jobID string) *redis.PubSub {
	return s.client.Subscribe(ctx, Channel(jobID))
}

type NopSink struct{}

func (NopSink) Publish(context.Context, Progress) error { return nil }
