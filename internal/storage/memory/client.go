package memory

import (
	"context"
	"sync"
	"time"
)

const (
	sessionTTL          = 30 * 24 * time.Hour
	sendRateLimitWindow = time.Minute
	sendRateLimitMax    = 120
)

type item struct {
	val string
	exp time.Time
}

type Client struct {
	mu       sync.RWMutex
	sessions map[string]item
	limit    map[string][]time.Time
	subs     map[string]map[string]string
}

func New() *Client {
	return &Client{
		sessions: make(map[string]item),
		limit:    make(map[string][]time.Time),
		subs:     make(map[string]map[string]string),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetSession(ctx context.Context, token, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[token] = item{val: userID, exp: time.Now().Add(sessionTTL)}
	return nil
}

func (c *Client) GetSession(ctx context.Context, token string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.sessions[token]
	if !ok || time.Now().After(v.exp) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) DeleteSession(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, token)
	return nil
}

func (c *Client) CheckSendRateLimit(ctx context.Context, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	cut := now.Add(-sendRateLimitWindow)
	var kept []time.Time
	for _, t := range c.limit[userID] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= sendRateLimitMax {
		return false, nil
	}
	kept = append(kept, now)
	c.limit[userID] = kept
	return true, nil
}

func (c *Client) SavePushSubscription(ctx context.Context, userID, key, subscription string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.subs[userID]
	if !ok {
		m = make(map[string]string)
		c.subs[userID] = m
	}
	m[key] = subscription
	return nil
}

func (c *Client) ListPushSubscriptions(ctx context.Context, userID string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.subs[userID]
	if len(src) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

func (c *Client) DeletePushSubscription(ctx context.Context, userID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.subs[userID]; ok {
		delete(m, key)
	}
	return nil
}
