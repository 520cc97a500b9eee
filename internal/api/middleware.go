package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/unplug/internal/enforcement"
	"github.com/goodtune/unplug/internal/limits"
	"github.com/rs/zerolog"
)

// LoggingMiddleware creates Gin middleware for request logging.
func LoggingMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		ctx.Next()

		// Reads and routine usage pushes are noisy
		event := logger.Info()
		if ctx.Request.Method == http.MethodGet ||
			(ctx.FullPath() == "/api/usage" && ctx.Writer.Status() < http.StatusBadRequest) {
			event = logger.Debug()
		}
		event.
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Str("remote_addr", ctx.ClientIP()).
			Int("status", ctx.Writer.Status()).
			Int("size", ctx.Writer.Size()).
			Dur("duration", time.Since(start)).
			Msg("API request")
	}
}

// respondError maps ledger and enforcement errors to HTTP responses.
func respondError(ctx *gin.Context, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, limits.ErrDuplicateApp):
		ctx.JSON(http.StatusConflict, gin.H{"error": "duplicate_app", "message": err.Error()})
	case errors.Is(err, limits.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, limits.ErrValidation):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	case errors.Is(err, enforcement.ErrAuthorizationRequired):
		ctx.JSON(http.StatusForbidden, gin.H{"error": "authorization_required", "message": err.Error()})
	default:
		logger.Error().Err(err).Str("path", ctx.Request.URL.Path).Msg("Request failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "message": "Internal error"})
	}
}

func badRequest(ctx *gin.Context, message string) {
	ctx.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": message})
}
