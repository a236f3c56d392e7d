package api

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"techstore/internal/ratelimit"
	"techstore/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-Id"
)

// recovery turns panics into a 500 envelope. Outside production the stack
// is included in the response.
func (h *Handler) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		stack := string(debug.Stack())
		h.logger.Error("Panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("stack", stack))

		body := envelope{
			Success:   false,
			Error:     "internal server error",
			Path:      c.Request.URL.Path,
			Method:    c.Request.Method,
			Timestamp: timestamp(),
		}
		if h.production {
			body.ErrorID = newErrorID()
		} else {
			body.Details = []string{fmt.Sprint(recovered)}
			body.Stack = stack
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, body)
	})
}

// requestID tags each request with an id, reusing the caller's if sent.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// accessLog writes one structured line per request.
func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)),
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			h.logger.Error("HTTP request", fields...)
		case status >= http.StatusBadRequest:
			h.logger.Warn("HTTP request", fields...)
		default:
			h.logger.Info("HTTP request", fields...)
		}
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

// securityHeaders sets the usual hardening headers. HSTS and CSP are only
// sent in production.
func (h *Handler) securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "DENY")
		header.Set("X-DNS-Prefetch-Control", "off")
		header.Set("X-Download-Options", "noopen")
		header.Set("Referrer-Policy", "no-referrer")
		header.Set("Cross-Origin-Opener-Policy", "same-origin")
		header.Set("Cross-Origin-Resource-Policy", "same-origin")
		if h.production {
			header.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			header.Set("Content-Security-Policy",
				"default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self'; img-src 'self' data: https:; "+
					"connect-src 'self'; font-src 'self'; object-src 'none'; media-src 'self'; frame-src 'none'")
		}
		c.Next()
	}
}

// rateLimit admits requests per client IP through limiter. Limiter failures
// let the request through.
func (h *Handler) rateLimit(limiter ratelimit.Limiter, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := limiter.Allow(c.Request.Context(), name+":"+c.ClientIP())
		if err != nil {
			h.logger.Warn("Rate limiter unavailable", zap.String("limiter", name), zap.Error(err))
			c.Next()
			return
		}

		reset := strconv.Itoa(int(math.Ceil(d.ResetAfter.Seconds())))
		c.Header("RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("RateLimit-Reset", reset)

		if !d.Allowed {
			util.RateLimitedTotal.WithLabelValues(name).Inc()
			c.Header("Retry-After", reset)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, envelope{
				Success:   false,
				Error:     "too many requests, please try again later",
				Path:      c.Request.URL.Path,
				Method:    c.Request.Method,
				Timestamp: timestamp(),
			})
			return
		}
		c.Next()
	}
}
