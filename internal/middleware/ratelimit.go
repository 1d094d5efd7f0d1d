package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/passgate/internal/cache"
	"github.com/charlesng35/passgate/pkg/errors"
	"github.com/charlesng35/passgate/pkg/logger"
	"github.com/charlesng35/passgate/pkg/response"
)

// RateLimit limits requests per (client IP, route) within a fixed window. The
// counters live in store so limits hold across instances sharing redis or the database.
func RateLimit(store cache.Store, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		key := "ratelimit:" + c.ClientIP() + "|" + path

		count, resetIn, err := store.IncrementWithTTL(c.Request.Context(), key, window)
		if err != nil {
			// Fail open when the counter backend is unavailable.
			logger.WithModule("ratelimit").Warn("rate limit store failed", zap.Error(err))
			c.Next()
			return
		}

		remaining := int64(maxRequests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > int64(maxRequests) {
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
