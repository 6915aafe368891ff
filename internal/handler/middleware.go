package handler

import (
	"strconv"
	"time"

	"sharetips/internal/metrics"
	"sharetips/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	HeaderUserID = "X-User-ID"
	ctxUserID    = "user_id"
)

// LoggerMiddleware logs one line per request and records its metrics.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status), latency.Seconds())

		zap.L().Info("[HTTP]",
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", c.Request.URL.RawQuery),
		)
	}
}

// RecoveryMiddleware turns a panic into a 500 envelope.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				zap.L().Error("[PANIC]", zap.Any("error", err), zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-User-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// IdentityMiddleware reads the caller id set by the auth gateway in front of
// this service. Requests without a valid id are rejected.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader(HeaderUserID), 10, 64)
		if err != nil || userID <= 0 {
			response.Unauthorized(c)
			c.Abort()
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

// OptionalIdentityMiddleware is IdentityMiddleware for routes anonymous
// viewers may call. Anonymous callers get user id 0.
func OptionalIdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader(HeaderUserID), 10, 64)
		if err != nil || userID < 0 {
			userID = 0
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}
