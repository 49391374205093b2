package graceful

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/nebulablock/rpdprobe/common/logger"
)

// Lifecycle manager for graceful shutdown and request draining.

var (
	inFlightRequests atomic.Int64
	draining         atomic.Bool
)

// BeginRequest increments the in-flight request counter and returns a function
// to decrement it. Use with `defer` at the top of request handlers/middlewares.
func BeginRequest() func() {
	inFlightRequests.Add(1)
	return func() {
		inFlightRequests.Add(-1)
	}
}

// InFlight reports the number of tracked requests currently being served.
func InFlight() int64 { return inFlightRequests.Load() }

// Drain waits for in-flight requests to reach zero, bounded by ctx deadline.
// Call it after http.Server.Shutdown has stopped accepting new connections.
func Drain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		n := inFlightRequests.Load()
		if n == 0 {
			logger.Logger.Info("graceful drain complete")
			return nil
		}

		select {
		case <-ctx.Done():
			logger.Logger.Error("graceful drain timeout", zap.Int64("in_flight_requests", n))
			return ctx.Err()
		case <-ticker.C:
			logger.Logger.Debug("draining...", zap.Int64("in_flight_requests", n))
		}
	}
}

// SetDraining flips the draining flag to true.
func SetDraining() { draining.Store(true) }

// IsDraining returns whether the server is currently draining.
func IsDraining() bool { return draining.Load() }

// GinRequestTracker counts requests for Drain and turns new ones away with 503 once draining.
func GinRequestTracker() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsDraining() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": gin.H{"message": "server is shutting down", "type": "unavailable"},
			})
			return
		}
		done := BeginRequest()
		defer done()
		c.Next()
	}
}
