package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	return &Client{redis.NewClient(opt)}
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, key, data, expiration).Err()
}

func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), dest)
}

func mxKey(domain string) string {
	return fmt.Sprintf("mx:%s", domain)
}

// CacheMX stores the outcome of an MX lookup for a domain.
func (c *Client) CacheMX(ctx context.Context, domain string, hasMX bool, ttl time.Duration) error {
	value := "0"
	if hasMX {
		value = "1"
	}
	return c.Set(ctx, mxKey(domain), value, ttl).Err()
}

// CachedMX returns the cached outcome and whether one was present.
func (c *Client) CachedMX(ctx context.Context, domain string) (bool, bool, error) {
	value, err := c.Get(ctx, mxKey(domain)).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return value == "1", true, nil
}
