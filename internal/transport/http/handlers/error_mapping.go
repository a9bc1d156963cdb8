package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/auth-session-service/internal/infra/telemetry"
	"github.com/arklim/auth-session-service/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
// Unmapped errors are attached to the gin context for the access log and reported to Sentry.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			message := cs.Message
			if message == "" {
				message = err.Error()
			}
			c.JSON(cs.Status, NewErrorResponse(c, message))
			return
		}
	}

	_ = c.Error(err)
	if fallbackStatus >= http.StatusInternalServerError {
		telemetry.CaptureException(c.Request.Context(), err)
	}
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// respondUsecaseError applies cases followed by the mappings every endpoint shares.
func respondUsecaseError(c *gin.Context, err error, cases ...ErrorCase) {
	all := append(cases,
		ErrorCase{Err: usecase.ErrInvalidInput, Status: http.StatusBadRequest},
		ErrorCase{Err: usecase.ErrUnauthenticated, Status: http.StatusUnauthorized, Message: "authentication required"},
	)
	RespondWithMappedError(c, err, all, http.StatusInternalServerError, "internal server error")
}
