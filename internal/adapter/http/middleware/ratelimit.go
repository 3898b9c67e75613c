package middleware

import (
	"fmt"
	"strconv"
	"time"

	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"
	"z402-facilitator/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RateLimit creates a fixed-window rate limiting middleware for the named
// route group. Identity resolution prefers the authenticated merchant over
// the client IP so NAT'd clients do not share a bucket once authenticated.
// When the limiter backend is unreachable the request is allowed through;
// availability wins over strictness in degraded mode.
func RateLimit(limiter ports.RateLimiter, scope string, limit int64, window time.Duration, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", scope, extractIdentifier(c))

		result, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			log.Error().Err(err).Str("scope", scope).Msg("rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier picks the most specific identity available for the
// rate limit key.
func extractIdentifier(c *gin.Context) string {
	if apiKey := c.GetHeader(HeaderAPIKey); apiKey != "" {
		return "key:" + apiKey
	}
	if v, ok := c.Get(CtxMerchantID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return "merchant:" + id.String()
		}
	}
	return "ip:" + c.ClientIP()
}
