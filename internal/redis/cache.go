package redis

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// ResponseTTL is how long a completed response can be replayed.
const ResponseTTL = 24 * time.Hour

const responseCachePrefix = "idempotency:"

// CachedResponse is a completed HTTP response kept for replay.
type CachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// ResponseCache stores responses of mutating requests by idempotency key.
// Ride state itself is never cached.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResponseCache creates a new ResponseCache.
func NewResponseCache(client *redis.Client) *ResponseCache {
	return &ResponseCache{client: client, ttl: ResponseTTL}
}

// GetResponse retrieves a cached response. A miss returns nil, nil.
func (s *ResponseCache) GetResponse(ctx context.Context, key string) (*CachedResponse, error) {
	data, err := s.client.Get(ctx, responseCachePrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

// SetResponse stores a response for replay.
func (s *ResponseCache) SetResponse(ctx context.Context, key string, response *CachedResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, responseCachePrefix+key, data, s.ttl).Err()
}
