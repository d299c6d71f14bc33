package web

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/redmage123/course-creator-sub023/internal/lab"
	"github.com/redmage123/course-creator-sub023/internal/ports"
	"github.com/redmage123/course-creator-sub023/internal/workspace"
	"github.com/redmage123/course-creator-sub023/pkg/api"
)

// RecoveryHandler is a middleware that recovers from panics
func RecoveryHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("Panic recovered: %v\n%s", r, debug.Stack())

				c.JSON(http.StatusInternalServerError, api.ErrorResponse{
					Error:   "internal_server_error",
					Code:    http.StatusInternalServerError,
					Message: fmt.Sprintf("Internal server error: %v", r),
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}

// LoggingMiddleware is a middleware that logs requests
func LoggingMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"ip":     c.ClientIP(),
		}).Debug("Request started")

		c.Next()

		end := logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"ip":     c.ClientIP(),
			"status": c.Writer.Status(),
			"size":   c.Writer.Size(),
		})

		if len(c.Errors) > 0 {
			end.Error("Request completed with errors")
		} else {
			end.Info("Request completed")
		}
	}
}

// writeError maps domain errors to HTTP status codes and writes a JSON body
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_server_error"

	var runtimeErr *lab.RuntimeError
	switch {
	case errors.Is(err, lab.ErrInvalidRequest):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, lab.ErrNotFound):
		status = http.StatusNotFound
		code = "lab_not_found"
	// Bad and missing workspace paths are indistinguishable to the caller
	case errors.Is(err, workspace.ErrFileNotFound), errors.Is(err, workspace.ErrInvalidPath):
		status = http.StatusNotFound
		code = "file_not_found"
	case errors.Is(err, ports.ErrExhausted), errors.Is(err, lab.ErrCapacity):
		status = http.StatusServiceUnavailable
		code = "capacity_exhausted"
	case errors.As(err, &runtimeErr):
		status = http.StatusBadGateway
		code = "runtime_error"
	}

	c.JSON(status, api.ErrorResponse{
		Error:   code,
		Code:    status,
		Message: err.Error(),
	})
}
