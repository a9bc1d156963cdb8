package usecase

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
	appLogger "github.com/arklim/auth-session-service/internal/infra/logger"
	"github.com/arklim/auth-session-service/internal/infra/security"
	"github.com/arklim/auth-session-service/internal/infra/telemetry"
)

// RecoveryService implements question/answer recovery. Each step stands on its own;
// nothing is stored between them.
type RecoveryService struct {
	*base
	codec *security.TokenCodec
}

func NewRecoveryService(store port.CredentialStore, hasher port.SecretHasher, codec *security.TokenCodec, opts ...Option) *RecoveryService {
	return &RecoveryService{base: newBase(store, hasher, opts), codec: codec}
}

// GetRecoveryQuestion returns ErrNotFound for unknown names and for users without a question.
func (s *RecoveryService) GetRecoveryQuestion(ctx context.Context, name string) (question string, err error) {
	ctx, span := s.startSpan(ctx, "recovery.question")
	defer func() { endSpan(span, err) }()

	record, err := s.recoverable(ctx, name)
	if err != nil {
		return "", err
	}
	return record.RecoveryQuestion, nil
}

// SubmitRecoveryAnswer compares the answer exactly and, on a match, issues a reset grant.
func (s *RecoveryService) SubmitRecoveryAnswer(ctx context.Context, name, answer string) (grant domain.RecoveryGrant, err error) {
	ctx, span := s.startSpan(ctx, "recovery.answer")
	defer func() { endSpan(span, err) }()

	record, err := s.recoverable(ctx, name)
	if err != nil {
		if isServerError(err) {
			s.metrics.ObserveRecovery(telemetry.ResultError)
		} else {
			s.metrics.ObserveRecovery(telemetry.ResultFailure)
		}
		return domain.RecoveryGrant{}, err
	}
	span.SetAttributes(attribute.String("auth.user_id", record.ID))

	ok, err := s.hasher.Verify(answer, record.RecoveryAnswerHash)
	if err != nil {
		s.metrics.ObserveRecovery(telemetry.ResultError)
		return domain.RecoveryGrant{}, serverError("verify recovery answer", err)
	}
	if !ok {
		s.metrics.ObserveRecovery(telemetry.ResultFailure)
		s.log(ctx).Info("recovery answer rejected", zap.String("user_id", record.ID))
		return domain.RecoveryGrant{}, ErrWrongAnswer
	}

	token, expiresAt, err := s.codec.MintResetToken(*record)
	if err != nil {
		s.metrics.ObserveRecovery(telemetry.ResultError)
		return domain.RecoveryGrant{}, serverError("mint reset token", err)
	}

	s.metrics.ObserveRecovery(telemetry.ResultSuccess)
	s.log(ctx).Info("recovery grant issued", zap.String("user_id", record.ID), zap.Time("expires_at", expiresAt))
	s.publish(ctx, domain.CredentialEvent{
		Kind:           domain.EventRecoveryGranted,
		UserID:         record.ID,
		OccurredAt:     s.now(),
		GrantExpiresAt: &expiresAt,
	})

	return domain.RecoveryGrant{User: record.Public(), ResetToken: token, ExpiresAt: expiresAt}, nil
}

// ResetCredential consumes a grant. The swap is conditional on the credential hash the grant was
// issued against, so a grant works at most once. Every session of the user ends.
func (s *RecoveryService) ResetCredential(ctx context.Context, resetToken, next string) (err error) {
	ctx, span := s.startSpan(ctx, "recovery.reset")
	defer func() { endSpan(span, err) }()

	resetToken = strings.TrimSpace(resetToken)
	if resetToken == "" || next == "" {
		return invalidInput("reset token and new credential are required")
	}

	claims, err := s.codec.VerifyResetToken(resetToken)
	if err != nil {
		s.log(ctx).Info("reset grant rejected", zap.Error(err))
		return ErrInvalidOrExpired
	}

	record, err := s.findByID(ctx, claims.Subject)
	if err != nil {
		if isNotFound(err) {
			return ErrInvalidOrExpired
		}
		return serverError("find user", err)
	}
	if !s.codec.MatchesCredential(claims, record.CredentialHash) {
		s.log(ctx).Info("reset grant already used", zap.String("user_id", record.ID))
		return ErrInvalidOrExpired
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return serverError("hash credential", err)
	}

	var swapped bool
	err = s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		swapped, err = s.store.CompareAndSetCredential(ctx, record.ID, record.CredentialHash, hash)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return ErrInvalidOrExpired
		}
		return serverError("reset credential", err)
	}
	if !swapped {
		return ErrInvalidOrExpired
	}

	if err := s.clearRefreshToken(ctx, record.ID); err != nil && !isNotFound(err) {
		return serverError("clear refresh token", err)
	}

	s.publish(ctx, domain.CredentialEvent{
		Kind:          domain.EventCredentialReset,
		UserID:        record.ID,
		SessionsEnded: true,
		OccurredAt:    s.now(),
	})
	return nil
}

func (s *RecoveryService) recoverable(ctx context.Context, name string) (*domain.UserRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidInput("name is required")
	}

	record, err := s.findByName(ctx, name)
	if err != nil {
		if isNotFound(err) {
			s.log(ctx).Debug("recovery for unknown name", zap.String("name", appLogger.MaskName(name)))
			return nil, ErrNotFound
		}
		return nil, serverError("find user", err)
	}
	if !record.HasRecovery() {
		return nil, ErrNotFound
	}
	return record, nil
}
