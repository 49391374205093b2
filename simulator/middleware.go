package simulator

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/nebulablock/rpdprobe/common/logger"
	"github.com/nebulablock/rpdprobe/common/random"
)

const (
	RequestIdKey    = "X-Rpdprobe-Request-Id"
	requestIdCtxKey = "request_id"
)

func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := random.GetUUID()
		c.Set(requestIdCtxKey, id)
		c.Header(RequestIdKey, id)
		c.Next()
	}
}

func PanicRecover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Logger.Error("panic detected",
					zap.Any("panic", err),
					zap.String("stacktrace", string(debug.Stack())),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(requestIdCtxKey)))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"message": fmt.Sprintf("panic detected: %v", err),
						"type":    "rpdsim_panic",
					},
				})
			}
		}()
		c.Next()
	}
}
