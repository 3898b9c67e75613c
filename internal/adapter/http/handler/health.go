package handler

import (
	"context"
	"net/http"
	"time"

	"z402-facilitator/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// HealthCheck returns a handler reporting the status of each dependency.
// All healthy -> 200 "healthy"; any failure -> 503 "degraded" with the
// per-dependency breakdown.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := "healthy"
		deps := make(map[string]string, len(checkers))
		for _, checker := range checkers {
			if err := checker.Ping(ctx); err != nil {
				deps[checker.Name()] = "unhealthy: " + err.Error()
				status = "degraded"
			} else {
				deps[checker.Name()] = "healthy"
			}
		}

		code := http.StatusOK
		if status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":       status,
			"dependencies": deps,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}
