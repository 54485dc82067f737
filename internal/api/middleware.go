package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/skillsenselab/scribeflow/internal/errors"
	"github.com/skillsenselab/scribeflow/internal/logger"
	"github.com/skillsenselab/scribeflow/internal/quota"
)

const (
	headerRequestID = "X-Request-Id"
	headerOwnerID   = "X-Owner-Id"

	ctxKeyRequestID = "request_id"
	ctxKeyOwnerID   = "owner_id"
)

// RequestID injects a unique X-Request-Id header into every request and
// response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(ctxKeyRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// OwnerID requires the X-Owner-Id header on every request. Authentication
// proper sits in front of this service; the header carries the already
// authenticated principal.
func OwnerID() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetHeader(headerOwnerID)
		if owner == "" {
			respondError(c, apperrors.Validation("X-Owner-Id header is required"))
			c.Abort()
			return
		}
		c.Set(ctxKeyOwnerID, owner)
		c.Next()
	}
}

func ownerFrom(c *gin.Context) string {
	return c.GetString(ctxKeyOwnerID)
}

// Recovery recovers from handler panics and logs the stack.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic recovered", map[string]interface{}{
					logger.FieldError: fmt.Sprintf("%v", err),
					"stack":           string(debug.Stack()),
					"path":            c.Request.URL.Path,
					"method":          c.Request.Method,
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(apperrors.Internal(nil)))
			}
		}()
		c.Next()
	}
}

// RequestLogger logs every request with method, path, status and duration.
// Health and metrics probes are skipped.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/healthz" || path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":             c.Request.Method,
			"path":               path,
			"status":             c.Writer.Status(),
			logger.FieldDuration: time.Since(start).Milliseconds(),
			"client":             c.ClientIP(),
		}
		if id := c.GetString(ctxKeyRequestID); id != "" {
			fields[logger.FieldRequestID] = id
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("request", fields)
		case status >= 400:
			log.Warn("request", fields)
		default:
			log.Info("request", fields)
		}
	}
}

// RateLimit enforces the sliding-window submission limit per owner,
// falling back to client IP when the owner header is absent.
func RateLimit(limiter *quota.SlidingWindow) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(headerOwnerID)
		if key == "" {
			key = c.ClientIP()
		}
		if !limiter.Allow(key) {
			respondError(c, apperrors.RateLimited())
			c.Abort()
			return
		}
		c.Next()
	}
}
