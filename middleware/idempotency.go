package middleware

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/storefront-checkout/repository"
	"go.uber.org/zap"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// ResponseStore is the storage the idempotency middleware needs.
type ResponseStore interface {
	Get(ctx context.Context, key string) (*repository.StoredResponse, error)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Save(ctx context.Context, key string, resp *repository.StoredResponse, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response for a repeated Idempotency-Key and
// rejects a repeat that arrives while the first request is still running.
// Keys are scoped to the shopper. Only written 2xx responses are stored, so a
// repeat after a rejection or a server error runs again. A store outage lets
// the request through.
func Idempotency(store ResponseStore, ttl, lockTTL time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if store == nil || key == "" {
			c.Next()
			return
		}
		scoped := c.GetString(UserContextKey) + ":" + key
		ctx := c.Request.Context()

		stored, err := store.Get(ctx, scoped)
		if err != nil {
			logger.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if stored != nil {
			c.Header("Idempotent-Replayed", "true")
			c.Data(stored.StatusCode, stored.ContentType, stored.Body)
			c.Abort()
			return
		}

		reserved, err := store.Reserve(ctx, scoped, lockTTL)
		if err != nil {
			logger.Warn("idempotency reserve failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if !reserved {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": "A request with this Idempotency-Key is already in progress",
			})
			return
		}

		w := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		bg := context.WithoutCancel(ctx)
		if status := w.Status(); w.Written() && status >= http.StatusOK && status < http.StatusMultipleChoices {
			resp := &repository.StoredResponse{
				StatusCode:  status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        w.body.Bytes(),
			}
			if err := store.Save(bg, scoped, resp, ttl); err != nil {
				logger.Warn("idempotency save failed", zap.String("key", key), zap.Error(err))
			}
		}
		if err := store.Release(bg, scoped); err != nil {
			logger.Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
		}
	}
}
