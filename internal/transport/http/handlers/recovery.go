package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/usecase"
)

// RecoveryFlow is the recovery surface the HTTP layer needs.
type RecoveryFlow interface {
	GetRecoveryQuestion(ctx context.Context, name string) (string, error)
	SubmitRecoveryAnswer(ctx context.Context, name, answer string) (domain.RecoveryGrant, error)
	ResetCredential(ctx context.Context, resetToken, newCredential string) error
}

// RecoveryHandler exposes question/answer recovery.
type RecoveryHandler struct {
	recovery RecoveryFlow
}

func NewRecoveryHandler(recovery RecoveryFlow) *RecoveryHandler {
	return &RecoveryHandler{recovery: recovery}
}

// RegisterRoutes binds the recovery routes. limiters run ahead of the answer and reset handlers.
func (h *RecoveryHandler) RegisterRoutes(r *gin.RouterGroup, limiters ...gin.HandlerFunc) {
	limited := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, limiters...), handler)
	}

	r.POST("/question", h.question)
	r.POST("/answer", limited(h.answer)...)
	r.POST("/reset", limited(h.reset)...)
}

// Question godoc
// @Summary Recovery question
// @Description Returns the recovery question configured for a user.
// @Tags Recovery
// @Accept json
// @Produce json
// @Param request body RecoveryQuestionRequest true "Recovery question payload"
// @Success 200 {object} RecoveryQuestionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/auth/recovery/question [post]
func (h *RecoveryHandler) question(c *gin.Context) {
	var req RecoveryQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "name is required"))
		return
	}

	question, err := h.recovery.GetRecoveryQuestion(c.Request.Context(), req.Name)
	if err != nil {
		respondUsecaseError(c, err,
			ErrorCase{Err: usecase.ErrNotFound, Status: http.StatusNotFound, Message: "recovery not available"},
		)
		return
	}

	c.JSON(http.StatusOK, RecoveryQuestionResponse{Question: question})
}

// Answer godoc
// @Summary Submit a recovery answer
// @Description Issues a short-lived, single-use reset grant for a correct answer.
// @Tags Recovery
// @Accept json
// @Produce json
// @Param request body RecoveryAnswerRequest true "Recovery answer payload"
// @Success 200 {object} RecoveryGrantResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/recovery/answer [post]
func (h *RecoveryHandler) answer(c *gin.Context) {
	var req RecoveryAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "name and answer are required"))
		return
	}

	grant, err := h.recovery.SubmitRecoveryAnswer(c.Request.Context(), req.Name, req.Answer)
	if err != nil {
		respondUsecaseError(c, err,
			ErrorCase{Err: usecase.ErrWrongAnswer, Status: http.StatusUnauthorized, Message: "wrong answer"},
			ErrorCase{Err: usecase.ErrNotFound, Status: http.StatusNotFound, Message: "recovery not available"},
		)
		return
	}

	c.JSON(http.StatusOK, RecoveryGrantResponse{
		User:       newUserSummary(grant.User),
		ResetToken: grant.ResetToken,
		ExpiresAt:  grant.ExpiresAt.UTC(),
	})
}

// Reset godoc
// @Summary Reset the credential
// @Description Consumes a reset grant and sets a new credential. Every session of the user ends.
// @Tags Recovery
// @Accept json
// @Produce json
// @Param request body RecoveryResetRequest true "Reset payload"
// @Success 204 {string} string ""
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/recovery/reset [post]
func (h *RecoveryHandler) reset(c *gin.Context) {
	var req RecoveryResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "reset_token and new_credential are required"))
		return
	}

	if err := h.recovery.ResetCredential(c.Request.Context(), req.ResetToken, req.NewCredential); err != nil {
		respondUsecaseError(c, err,
			ErrorCase{Err: usecase.ErrInvalidOrExpired, Status: http.StatusUnauthorized, Message: "invalid or expired reset token"},
		)
		return
	}

	c.Status(http.StatusNoContent)
}
