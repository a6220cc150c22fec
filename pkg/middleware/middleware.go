package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ytindexer/internal/logger"
	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/logging"
	"ytindexer/pkg/tracing"
)

const RequestIDHeader = "X-Request-ID"

// quietPaths are probed constantly and only logged at debug level.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// RequestIDMiddleware accepts the caller's X-Request-ID or assigns one, and puts it
// on the request context for every log entry written while serving it.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		if traceID := tracing.TraceID(ctx); traceID != "" {
			ctx = logging.WithTraceID(ctx, traceID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func LoggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}
		statusCode := c.Writer.Status()

		fields := []interface{}{
			"status", statusCode,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"bytes", c.Writer.Size(),
		}
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			fields = append(fields, "error", errorMessage)
		}

		ctx := c.Request.Context()
		switch {
		case statusCode >= http.StatusInternalServerError:
			log.ErrorwCtx(ctx, "HTTP request", fields...)
		case quietPaths[c.Request.URL.Path]:
			log.DebugwCtx(ctx, "HTTP request", fields...)
		default:
			log.InfowCtx(ctx, "HTTP request", fields...)
		}
	}
}

// RecoveryMiddleware turns a handler panic into a 500 with the standard error body.
func RecoveryMiddleware(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := apperrors.RecoverPanic(recovered)
		log.ErrorwCtx(c.Request.Context(), "Panic recovered",
			"error", err,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, apperrors.ToErrorResponse(apperrors.ErrInternal))
	})
}
