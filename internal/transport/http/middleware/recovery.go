package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appLogger "github.com/arklim/auth-session-service/internal/infra/logger"
)

// Recover turns a handler panic into a 500 and reports it to Sentry.
func Recover(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			requestID := appLogger.RequestID(c.Request.Context())
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("request_id", requestID)
				scope.SetExtra("path", c.Request.URL.Path)
				scope.SetExtra("stack", string(debug.Stack()))
				sentry.CaptureException(fmt.Errorf("panic: %v", rec))
			})

			log.Error("panic recovered",
				zap.String("request_id", requestID),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", rec),
			)

			c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "internal server error"))
		}()

		c.Next()
	}
}
