package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/transport/http/middleware"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserSummary is the public identity of a user. It never carries secrets.
type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newUserSummary(user domain.PublicIdentity) UserSummary {
	return UserSummary{ID: user.ID, Name: user.Name}
}

// RegisterRequest defines the account registration payload.
type RegisterRequest struct {
	Name             string `json:"name" binding:"required"`
	Credential       string `json:"credential" binding:"required"`
	RecoveryQuestion string `json:"recovery_question"`
	RecoveryAnswer   string `json:"recovery_answer"`
}

// RegisterResponse contains the created identity.
type RegisterResponse struct {
	User UserSummary `json:"user"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Name       string `json:"name" binding:"required"`
	Credential string `json:"credential" binding:"required"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken           string       `json:"access_token"`
	RefreshToken          string       `json:"refresh_token"`
	TokenType             string       `json:"token_type"`
	ExpiresIn             int          `json:"expires_in"`
	RefreshTokenExpiresAt time.Time    `json:"refresh_token_expires_at"`
	User                  *UserSummary `json:"user,omitempty"`
}

func newTokenResponse(pair domain.TokenPair, now time.Time) TokenResponse {
	expiresIn := int(pair.AccessTokenExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return TokenResponse{
		AccessToken:           pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		TokenType:             "Bearer",
		ExpiresIn:             expiresIn,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt.UTC(),
	}
}

// RefreshRequest represents the payload to refresh an access token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ChangeCredentialRequest holds the current and the new credential.
type ChangeCredentialRequest struct {
	CurrentCredential string `json:"current_credential" binding:"required"`
	NewCredential     string `json:"new_credential" binding:"required"`
}

// MeResponse echoes the verified access token.
type MeResponse struct {
	User      UserSummary `json:"user"`
	TokenID   string      `json:"token_id"`
	IssuedAt  time.Time   `json:"issued_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// RecoveryQuestionRequest names the user whose question is requested.
type RecoveryQuestionRequest struct {
	Name string `json:"name" binding:"required"`
}

// RecoveryQuestionResponse carries the stored question.
type RecoveryQuestionResponse struct {
	Question string `json:"question"`
}

// RecoveryAnswerRequest submits an answer for a named user.
type RecoveryAnswerRequest struct {
	Name   string `json:"name" binding:"required"`
	Answer string `json:"answer" binding:"required"`
}

// RecoveryGrantResponse is returned for a correct recovery answer.
type RecoveryGrantResponse struct {
	User       UserSummary `json:"user"`
	ResetToken string      `json:"reset_token"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// RecoveryResetRequest consumes a reset grant.
type RecoveryResetRequest struct {
	ResetToken    string `json:"reset_token" binding:"required"`
	NewCredential string `json:"new_credential" binding:"required"`
}

// HealthResponse describes the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports each dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
