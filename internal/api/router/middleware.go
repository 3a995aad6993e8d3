package router

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/jobnex-queue/internal/api/dto"
	"github.com/cuongbtq/jobnex-queue/internal/api/handler"
)

const (
	// SubscriberHeader carries the caller identity set by the upstream gateway
	SubscriberHeader = "X-Subscriber-ID"
	// DispatchTokenHeader carries the shared secret of the dispatch trigger
	DispatchTokenHeader = "X-Dispatch-Token"
)

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}

		logger.LogAttrs(c.Request.Context(), level, "HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.String("subscriber_id", c.GetString(handler.SubscriberIDKey)),
			slog.Duration("latency", time.Since(start)),
			slog.Int("body_size", c.Writer.Size()),
		)

		for _, e := range c.Errors {
			logger.Error("Request error", slog.String("error", e.Error()))
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, "+SubscriberHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SubscriberMiddleware requires a UUID in the X-Subscriber-ID header and
// stores it in the context for the handlers
func SubscriberMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(SubscriberHeader)
		if _, err := uuid.Parse(id); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
				Error: SubscriberHeader + " header must be a valid UUID",
				Field: SubscriberHeader,
			})
			return
		}

		c.Set(handler.SubscriberIDKey, id)
		c.Next()
	}
}

// DispatchTokenMiddleware rejects requests that do not present token
func DispatchTokenMiddleware(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(DispatchTokenHeader))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
				Error: "invalid dispatch token",
				Field: DispatchTokenHeader,
			})
			return
		}
		c.Next()
	}
}
