package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"carpool/internal/redis"
)

const (
	idempotencyHeader  = "Idempotency-Key"
	idempotencyLockTTL = 30 * time.Second
)

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response when a mutating request
// is retried with the same Idempotency-Key. Keys are scoped to the caller,
// so it must run after AuthMiddleware. A retry that arrives while the first
// attempt is still running gets 409. Responses that signal a retryable
// outcome (409, 5xx) are not stored.
func IdempotencyMiddleware(cache redis.ResponseCacheInterface, locks redis.LockStoreInterface, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only apply to mutating methods.
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}

		// Get idempotency key from header.
		key := c.GetHeader(idempotencyHeader)
		if key == "" || cache == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		if p, ok := PrincipalFrom(c); ok {
			key = p.ID + ":" + key
		}

		// Check for cached response.
		cached, err := cache.GetResponse(ctx, key)
		if err != nil {
			// Redis error - proceed without idempotency.
			log.Warn().Err(err).Msg("idempotency_lookup_failed")
			c.Next()
			return
		}

		if cached != nil {
			for k, v := range cached.Headers {
				for _, val := range v {
					c.Header(k, val)
				}
			}
			c.Data(cached.StatusCode, "application/json", cached.Body)
			c.Abort()
			return
		}

		if locks != nil {
			acquired, err := locks.AcquireRequestLock(ctx, key, idempotencyLockTTL)
			if err == nil && !acquired {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"error": "a request with this idempotency key is in progress",
					"code":  "idempotency_in_progress",
				})
				return
			}
			if err == nil {
				defer func() {
					if err := locks.ReleaseRequestLock(ctx, key); err != nil {
						log.Warn().Err(err).Msg("idempotency_unlock_failed")
					}
				}()
			}
		}

		// Wrap response writer to capture response.
		w := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
		}
		c.Writer = w

		// Process request.
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 500 || status == http.StatusConflict {
			return
		}
		response := redis.CachedResponse{
			StatusCode: status,
			Body:       w.body.Bytes(),
			Headers:    extractResponseHeaders(c),
		}
		if err := cache.SetResponse(ctx, key, &response); err != nil {
			log.Warn().Err(err).Msg("idempotency_store_failed")
		}
	}
}

// extractResponseHeaders extracts headers to cache.
func extractResponseHeaders(c *gin.Context) http.Header {
	headers := make(http.Header)
	// Only cache Content-Type header.
	if ct := c.Writer.Header().Get("Content-Type"); ct != "" {
		headers.Set("Content-Type", ct)
	}
	return headers
}
