package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/metrics"
)

var exemptPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Middleware limits requests per client IP. Health and metrics scrapes are never limited.
func Middleware(store *Store) gin.HandlerFunc {
	limit := strconv.FormatFloat(store.settings.RPS, 'f', -1, 64)

	return func(c *gin.Context) {
		if exemptPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		key := c.ClientIP()
		if key == "" {
			key = c.RemoteIP()
		}

		remaining, wait, ok := store.Take(key)
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			resp := apperrors.ToErrorResponse(apperrors.ErrRateLimited)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		c.Next()
	}
}
