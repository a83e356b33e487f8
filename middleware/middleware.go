// Package middleware holds the gin middleware wired in front of every
// route: request logging, the gin-context bridge the recommend/game
// packages' AddTo/For accessors depend on, and centralized error
// translation from apperror's typed kinds to HTTP status codes.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prefduel/prefduel/service/apperror"
	"github.com/prefduel/prefduel/service/logger"
	"github.com/prefduel/prefduel/util"
)

// GinContextToContext stashes the *gin.Context on its own request.Context
// under util.GinContextKey, so a package's AddTo/For accessor pair (or
// logger.For) can recover it from a plain context.Context passed down
// into a service call.
func GinContextToContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), util.GinContextKey, c)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs each request's method, path, status, and latency at
// the level the teacher's handler logging uses.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.For(c).WithFields(map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Info("request handled")
	}
}

// WriteError maps a service error to an HTTP status and writes a JSON
// util.ErrorResponse body, following apperror's documented kind->status
// mapping (SPEC_FULL §7).
func WriteError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var validationErr apperror.ValidationError
	var notFoundErr apperror.NotFoundError
	var stateErr apperror.StateError
	var modelNotReadyErr apperror.ModelNotReadyError
	var transientErr apperror.TransientExternalError

	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.As(err, &stateErr):
		status = http.StatusBadRequest
	case errors.As(err, &modelNotReadyErr):
		status = http.StatusServiceUnavailable
	case errors.As(err, &transientErr):
		status = http.StatusBadGateway
	default:
		logger.For(c).WithError(err).Error("unhandled error")
	}

	c.JSON(status, util.ErrorResponse{Error: err.Error()})
}
