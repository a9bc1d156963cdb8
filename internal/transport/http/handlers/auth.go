package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/transport/http/middleware"
	"github.com/arklim/auth-session-service/internal/usecase"
)

// SessionManager is the session surface the HTTP layer needs.
type SessionManager interface {
	middleware.Authorizer
	Login(ctx context.Context, name, credential string) (domain.TokenPair, domain.PublicIdentity, error)
	Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error)
	Logout(ctx context.Context, identity domain.Identity) error
	ChangeCredential(ctx context.Context, identity domain.Identity, current, next string) error
}

// Registrar creates users.
type Registrar interface {
	Register(ctx context.Context, in usecase.RegisterInput) (domain.PublicIdentity, error)
}

// AuthHandler exposes registration and session endpoints.
type AuthHandler struct {
	sessions     SessionManager
	registration Registrar
	now          func() time.Time
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(sessions SessionManager, registration Registrar) *AuthHandler {
	return &AuthHandler{
		sessions:     sessions,
		registration: registration,
		now:          time.Now,
	}
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of the login handler.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares ...gin.HandlerFunc) {
	requireAuth := middleware.RequireAuth(h.sessions)

	r.POST("/register", h.register)
	r.POST("/login", append(append([]gin.HandlerFunc{}, loginMiddlewares...), h.login)...)
	r.POST("/refresh", h.refresh)
	r.POST("/logout", requireAuth, h.logout)
	r.POST("/credential", requireAuth, h.changeCredential)
	r.GET("/me", requireAuth, h.me)
}

// Register godoc
// @Summary Register a new user
// @Description Creates a user with a credential and an optional recovery question.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration payload"
// @Success 201 {object} RegisterResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "name and credential are required"))
		return
	}

	user, err := h.registration.Register(c.Request.Context(), usecase.RegisterInput{
		Name:       req.Name,
		Credential: req.Credential,
		Question:   req.RecoveryQuestion,
		Answer:     req.RecoveryAnswer,
	})
	if err != nil {
		respondUsecaseError(c, err,
			ErrorCase{Err: usecase.ErrDuplicateName, Status: http.StatusConflict, Message: "name already registered"},
		)
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{User: newUserSummary(user)})
}

// Login godoc
// @Summary Login with name and credential
// @Description Issues an access and refresh token pair. Any previous refresh token stops working.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login payload"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "name and credential are required"))
		return
	}

	pair, user, err := h.sessions.Login(c.Request.Context(), req.Name, req.Credential)
	if err != nil {
		respondUsecaseError(c, err,
			ErrorCase{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
		)
		return
	}

	resp := newTokenResponse(pair, h.now())
	summary := newUserSummary(user)
	resp.User = &summary
	c.JSON(http.StatusOK, resp)
}

// Refresh godoc
// @Summary Refresh the token pair
// @Description Exchanges the active refresh token for a new pair. The presented token stops working.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh payload"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	pair, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondUsecaseError(c, err,
			ErrorCase{Err: usecase.ErrInvalidOrExpired, Status: http.StatusUnauthorized, Message: "invalid or expired refresh token"},
		)
		return
	}

	c.JSON(http.StatusOK, newTokenResponse(pair, h.now()))
}

// Logout godoc
// @Summary Logout
// @Description Revokes the presented access token and clears the stored refresh token.
// @Tags Authentication
// @Security Bearer
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	if err := h.sessions.Logout(c.Request.Context(), identity); err != nil {
		respondUsecaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// ChangeCredential godoc
// @Summary Change the credential
// @Description Replaces the credential after re-verifying the current one.
// @Tags Authentication
// @Security Bearer
// @Accept json
// @Produce json
// @Param request body ChangeCredentialRequest true "Credential change payload"
// @Success 204 {string} string ""
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/credential [post]
func (h *AuthHandler) changeCredential(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req ChangeCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "current_credential and new_credential are required"))
		return
	}

	if err := h.sessions.ChangeCredential(c.Request.Context(), identity, req.CurrentCredential, req.NewCredential); err != nil {
		respondUsecaseError(c, err,
			ErrorCase{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
			ErrorCase{Err: usecase.ErrNotFound, Status: http.StatusNotFound, Message: "user not found"},
		)
		return
	}

	c.Status(http.StatusNoContent)
}

// Me godoc
// @Summary Current identity
// @Description Echoes the identity carried by the access token.
// @Tags Authentication
// @Security Bearer
// @Produce json
// @Success 200 {object} MeResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) me(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	c.JSON(http.StatusOK, MeResponse{
		User:      UserSummary{ID: identity.UserID, Name: identity.Name},
		TokenID:   identity.TokenID,
		IssuedAt:  identity.IssuedAt.UTC(),
		ExpiresAt: identity.ExpiresAt.UTC(),
	})
}
