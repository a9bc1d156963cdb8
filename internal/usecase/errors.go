package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/arklim/auth-session-service/internal/repository"
)

var (
	// ErrInvalidCredentials covers both an unknown name and a wrong credential.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidOrExpired indicates a refresh token or reset grant that cannot be used.
	ErrInvalidOrExpired = errors.New("token invalid or expired")
	// ErrUnauthenticated indicates a missing or garbled bearer header.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrInvalidToken indicates an access token that failed verification or was revoked.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNotFound indicates the named user or its recovery question does not exist.
	ErrNotFound = errors.New("not found")
	// ErrWrongAnswer indicates a recovery answer that does not match.
	ErrWrongAnswer = errors.New("wrong answer")
	// ErrDuplicateName indicates the name is already registered.
	ErrDuplicateName = errors.New("name already registered")
	// ErrInvalidInput indicates a request that is missing required fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrServerError wraps store, codec and registry failures unrelated to caller input.
	ErrServerError = errors.New("internal server error")
)

// serverError keeps the cause reachable through errors.Is while classifying it as ErrServerError.
func serverError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrServerError, op, err)
}

func invalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}

// isNotFound reports a repository miss. Deadline expiry is never a miss.
func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound) && !errors.Is(err, context.DeadlineExceeded)
}

func isServerError(err error) bool {
	return errors.Is(err, ErrServerError)
}
