package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/machfivewheels/formrelay/internal/logging"
	"github.com/machfivewheels/formrelay/internal/metrics"
)

// RequestIDHeader carries the per-request id in both directions.
const RequestIDHeader = "X-Request-Id"

// NewRouter mounts h on route for every method, plus /healthz and, when m
// is non-nil, /metrics.
func NewRouter(h *Handler, route string, m *metrics.Metrics, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(RequestID(logger), AccessLog(), Recovery())

	r.Any(route, h.Submit)
	r.GET("/healthz", h.Health)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
	return r
}

// RequestID assigns each request an id, echoes it in RequestIDHeader and
// stores a logger carrying it in the request context. A client supplied id
// is kept when it is a valid UUID.
func RequestID(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)

		logger := base.With("request_id", id)
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), logger))

		c.Next()
	}
}

// AccessLog writes one structured line per request.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger := logging.FromContext(c.Request.Context())
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes_in", c.Request.ContentLength,
			"duration", time.Since(start),
			"remote", c.ClientIP(),
		)
	}
}

// Recovery turns a panic into the generic failure response.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.FromContext(c.Request.Context()).ErrorContext(c.Request.Context(), "panic while handling request",
			"panic", recovered,
		)
		c.String(http.StatusInternalServerError, msgSendFailed)
		c.Abort()
	})
}
