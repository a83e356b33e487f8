// Package util holds small cross-cutting helpers shared by the server,
// persistence, and service layers, following the teacher's pattern of a
// single flat util package rather than scattering these across callers.
package util

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GinContextKey is the request-context key under which GinContextToContext
// stashes the *gin.Context, so background-refresh singletons registered
// via a package's AddTo/For pair can recover it from a plain
// context.Context.
const GinContextKey = "GinContextKey"

// GinContextFromContext recovers the *gin.Context stashed by
// middleware.GinContextToContext, returning ok=false if ctx carries none.
func GinContextFromContext(ctx context.Context) (*gin.Context, bool) {
	gc, ok := ctx.Value(GinContextKey).(*gin.Context)
	return gc, ok
}

// MustGetGinContext recovers the *gin.Context stashed by
// middleware.GinContextToContext, panicking if ctx carries none. Used by
// AddTo/For accessor pairs that are only ever called from within a
// request handler.
func MustGetGinContext(ctx context.Context) *gin.Context {
	gc, ok := GinContextFromContext(ctx)
	if !ok {
		panic("gin context not present on context.Context")
	}
	return gc
}

// ErrorResponse is the JSON body returned for any non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse is the JSON body returned for handlers that only need to
// confirm an operation completed.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// Track logs the duration since start at debug level, tagged with name. It
// is called via defer at the top of a function:
//
//	defer util.Track("mongo.Find", time.Now())
func Track(name string, start time.Time) {
	logrus.WithFields(logrus.Fields{"op": name, "duration": time.Since(start)}).Debug("op complete")
}

// RemoveDuplicates returns a new slice with duplicate elements removed,
// preserving the first occurrence's order.
func RemoveDuplicates[T comparable](in []T) []T {
	seen := make(map[T]bool, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Contains reports whether v is present in in.
func Contains[T comparable](in []T, v T) bool {
	for _, x := range in {
		if x == v {
			return true
		}
	}
	return false
}
