package storage

import (
	"context"
)

// SessionStore holds session tokens, the per-user send rate limit and web
// push subscriptions. Implementations: redis.Client, memory.Client (for -dev
// without Redis).
//
// GetSession returns "" (no error) for an unknown or expired token.
type SessionStore interface {
	SetSession(ctx context.Context, token, userID string) error
	GetSession(ctx context.Context, token string) (userID string, err error)
	DeleteSession(ctx context.Context, token string) error
	CheckSendRateLimit(ctx context.Context, userID string) (allowed bool, err error)
	SavePushSubscription(ctx context.Context, userID, key, subscription string) error
	ListPushSubscriptions(ctx context.Context, userID string) (map[string]string, error)
	DeletePushSubscription(ctx context.Context, userID, key string) error
	Close() error
}
