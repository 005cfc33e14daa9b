package redis

import (
	"context"
	"time"

	"carpool/internal/notify"
)

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireRequestLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseRequestLock(ctx context.Context, key string) error
}

// ResponseCacheInterface defines the interface for idempotent response replay.
type ResponseCacheInterface interface {
	GetResponse(ctx context.Context, key string) (*CachedResponse, error)
	SetResponse(ctx context.Context, key string, response *CachedResponse) error
}

// Ensure concrete types implement interfaces.
var (
	_ LockStoreInterface     = (*LockStore)(nil)
	_ ResponseCacheInterface = (*ResponseCache)(nil)
	_ notify.Publisher       = (*EventBus)(nil)
)
