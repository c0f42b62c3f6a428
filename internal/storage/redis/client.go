package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session TTL 30 days; send rate limit 120 messages / minute per user.
const (
	SessionTTL          = 30 * 24 * 3600
	SendRateLimitWindow = 60 // seconds
	SendRateLimitMax    = 120
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Raw exposes the underlying client for pub/sub bridging.
func (c *Client) Raw() *redis.Client { return c.cli }

func (c *Client) SetSession(ctx context.Context, token, userID string) error {
	return c.cli.Set(ctx, "session:"+token, userID, SessionTTL*time.Second).Err()
}

// GetSession resolves a token to a user id. Unknown token returns "" with no
// error; callers decide how to reject.
func (c *Client) GetSession(ctx context.Context, token string) (string, error) {
	val, err := c.cli.Get(ctx, "session:"+token).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) DeleteSession(ctx context.Context, token string) error {
	return c.cli.Del(ctx, "session:"+token).Err()
}

// CheckSendRateLimit counts sends in send_limit:{userID}: at most
// SendRateLimitMax per window. Callers respond with HTTP 429 on excess.
func (c *Client) CheckSendRateLimit(ctx context.Context, userID string) (allowed bool, err error) {
	key := "send_limit:" + userID
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, key, SendRateLimitWindow*time.Second)
	}
	return n <= int64(SendRateLimitMax), nil
}

// SavePushSubscription stores the serialized subscription in the
// push_subs:{userID} hash keyed by the endpoint digest.
func (c *Client) SavePushSubscription(ctx context.Context, userID, key, subscription string) error {
	return c.cli.HSet(ctx, "push_subs:"+userID, key, subscription).Err()
}

func (c *Client) ListPushSubscriptions(ctx context.Context, userID string) (map[string]string, error) {
	m, err := c.cli.HGetAll(ctx, "push_subs:"+userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return m, err
}

// DeletePushSubscription drops a subscription, e.g. after the push service
// reports it gone (410).
func (c *Client) DeletePushSubscription(ctx context.Context, userID, key string) error {
	return c.cli.HDel(ctx, "push_subs:"+userID, key).Err()
}

// FlushDB clears the current Redis DB (session and subscription reset for
// tests or local restarts).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
