package usecase

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
	appLogger "github.com/arklim/auth-session-service/internal/infra/logger"
	"github.com/arklim/auth-session-service/internal/infra/security"
	"github.com/arklim/auth-session-service/internal/infra/telemetry"
)

// loginRotationAttempts bounds how often login retries when a concurrent rotation moved the stored token.
const loginRotationAttempts = 3

// SessionConfig carries the session policy switches.
type SessionConfig struct {
	RevokeOnCredentialChange bool
	DegradationPolicy        domain.DegradationPolicy
}

// SessionService owns login, refresh, logout, credential change and access checks.
// It is the only writer of a record's refresh token fields.
type SessionService struct {
	*base
	codec    *security.TokenCodec
	registry port.RevocationRegistry
	cfg      SessionConfig
}

// NewSessionService wires the session manager. registry is shared with every access check.
func NewSessionService(store port.CredentialStore, hasher port.SecretHasher, codec *security.TokenCodec, registry port.RevocationRegistry, cfg SessionConfig, opts ...Option) *SessionService {
	return &SessionService{
		base:     newBase(store, hasher, opts),
		codec:    codec,
		registry: registry,
		cfg:      cfg,
	}
}

// Login verifies name and credential and rotates the stored refresh token.
func (s *SessionService) Login(ctx context.Context, name, credential string) (pair domain.TokenPair, user domain.PublicIdentity, err error) {
	ctx, span := s.startSpan(ctx, "session.login")
	defer func() { endSpan(span, err) }()

	name = strings.TrimSpace(name)
	if name == "" || credential == "" {
		return domain.TokenPair{}, domain.PublicIdentity{}, invalidInput("name and credential are required")
	}

	record, err := s.findByName(ctx, name)
	if err != nil {
		if isNotFound(err) {
			s.burnVerify(credential)
			s.metrics.ObserveLogin(telemetry.ResultFailure)
			s.log(ctx).Info("login rejected", zap.String("name", appLogger.MaskName(name)))
			return domain.TokenPair{}, domain.PublicIdentity{}, ErrInvalidCredentials
		}
		s.metrics.ObserveLogin(telemetry.ResultError)
		return domain.TokenPair{}, domain.PublicIdentity{}, serverError("find user", err)
	}

	ok, err := s.hasher.Verify(credential, record.CredentialHash)
	if err != nil {
		s.metrics.ObserveLogin(telemetry.ResultError)
		return domain.TokenPair{}, domain.PublicIdentity{}, serverError("verify credential", err)
	}
	if !ok {
		s.metrics.ObserveLogin(telemetry.ResultFailure)
		s.log(ctx).Info("login rejected", zap.String("name", appLogger.MaskName(name)))
		return domain.TokenPair{}, domain.PublicIdentity{}, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.String("auth.user_id", record.ID))

	// Login rotates unconditionally, so a lost swap is retried against the fresh value.
	for attempt := 0; attempt < loginRotationAttempts; attempt++ {
		var swapped bool
		pair, swapped, err = s.issue(ctx, record)
		if err != nil {
			s.metrics.ObserveLogin(telemetry.ResultError)
			return domain.TokenPair{}, domain.PublicIdentity{}, err
		}
		if swapped {
			s.metrics.ObserveLogin(telemetry.ResultSuccess)
			s.publish(ctx, domain.SessionEvent{Kind: domain.EventSessionStarted, UserID: record.ID, OccurredAt: s.now()})
			return pair, record.Public(), nil
		}

		record, err = s.findByID(ctx, record.ID)
		if err != nil {
			s.metrics.ObserveLogin(telemetry.ResultError)
			return domain.TokenPair{}, domain.PublicIdentity{}, serverError("reload user", err)
		}
	}

	s.metrics.ObserveLogin(telemetry.ResultError)
	return domain.TokenPair{}, domain.PublicIdentity{}, serverError("rotate refresh token", errors.New("too much contention"))
}

// Refresh exchanges a refresh token for a new pair. The presented token stops working immediately.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (pair domain.TokenPair, err error) {
	ctx, span := s.startSpan(ctx, "session.refresh")
	defer func() { endSpan(span, err) }()

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return domain.TokenPair{}, invalidInput("refresh token is required")
	}

	userID, err := security.ParseRefreshToken(refreshToken)
	if err != nil {
		s.metrics.ObserveRefresh(telemetry.ResultInvalid)
		return domain.TokenPair{}, ErrInvalidOrExpired
	}

	record, err := s.findByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			s.metrics.ObserveRefresh(telemetry.ResultInvalid)
			return domain.TokenPair{}, ErrInvalidOrExpired
		}
		s.metrics.ObserveRefresh(telemetry.ResultError)
		return domain.TokenPair{}, serverError("find user", err)
	}

	if err := s.codec.VerifyRefreshToken(refreshToken, *record); err != nil {
		s.metrics.ObserveRefresh(telemetry.ResultInvalid)
		s.log(ctx).Info("refresh rejected", zap.String("user_id", record.ID), zap.String("reason", err.Error()))
		return domain.TokenPair{}, ErrInvalidOrExpired
	}

	pair, swapped, err := s.issue(ctx, record)
	if err != nil {
		s.metrics.ObserveRefresh(telemetry.ResultError)
		return domain.TokenPair{}, err
	}
	if !swapped {
		// A concurrent refresh won the swap with the same token.
		s.metrics.ObserveRefresh(telemetry.ResultInvalid)
		s.log(ctx).Info("refresh lost rotation race", zap.String("user_id", record.ID))
		return domain.TokenPair{}, ErrInvalidOrExpired
	}

	s.metrics.ObserveRefresh(telemetry.ResultSuccess)
	s.publish(ctx, domain.SessionEvent{Kind: domain.EventSessionRefreshed, UserID: record.ID, OccurredAt: s.now()})
	return pair, nil
}

// issue swaps in a new refresh token against the hash record was read with, then mints the access token.
func (s *SessionService) issue(ctx context.Context, record *domain.UserRecord) (domain.TokenPair, bool, error) {
	refresh, err := s.codec.MintRefreshToken(record.ID)
	if err != nil {
		return domain.TokenPair{}, false, serverError("mint refresh token", err)
	}

	var swapped bool
	err = s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		swapped, err = s.store.CompareAndSetRefreshToken(ctx, record.ID, record.RefreshTokenHash, refresh.Hash, refresh.ExpiresAt)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return domain.TokenPair{}, false, nil
		}
		return domain.TokenPair{}, false, serverError("store refresh token", err)
	}
	if !swapped {
		return domain.TokenPair{}, false, nil
	}

	access, claims, err := s.codec.MintAccessToken(record.ID, record.Name)
	if err != nil {
		return domain.TokenPair{}, false, serverError("mint access token", err)
	}

	return domain.TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:          refresh.Value,
		RefreshTokenExpiresAt: refresh.ExpiresAt,
	}, true, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrUnauthenticated
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrUnauthenticated
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrUnauthenticated
	}
	return token, nil
}

// Authorize implements the access check for a raw Authorization header.
func (s *SessionService) Authorize(ctx context.Context, header string) (domain.Identity, error) {
	token, err := BearerToken(header)
	if err != nil {
		return domain.Identity{}, err
	}
	return s.AuthorizeToken(ctx, token)
}

// AuthorizeToken verifies the access token and consults the revocation registry.
func (s *SessionService) AuthorizeToken(ctx context.Context, token string) (domain.Identity, error) {
	claims, err := s.codec.VerifyAccessToken(token)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			s.log(ctx).Debug("access token expired")
		} else {
			s.log(ctx).Info("access token rejected", zap.Error(err))
		}
		return domain.Identity{}, ErrInvalidToken
	}

	var revoked bool
	err = s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		revoked, err = s.registry.IsRevoked(ctx, claims.ID)
		return err
	})
	if err != nil {
		s.metrics.ObserveRevocationLookup(telemetry.ResultError)
		if !s.cfg.DegradationPolicy.AllowsUnknownRevocation() {
			return domain.Identity{}, serverError("check revocation", err)
		}
		s.log(ctx).Warn("revocation lookup failed, accepting token",
			zap.String("jti", appLogger.MaskString(claims.ID)),
			zap.String("policy", string(s.cfg.DegradationPolicy.Mode())),
			zap.Error(err),
		)
		return claims.Identity(), nil
	}
	if revoked {
		s.metrics.ObserveRevocationLookup(telemetry.ResultInvalid)
		return domain.Identity{}, ErrInvalidToken
	}

	s.metrics.ObserveRevocationLookup(telemetry.ResultSuccess)
	return claims.Identity(), nil
}

// Logout revokes the authorized access token and clears the stored refresh token.
// Running it twice leaves the same state.
func (s *SessionService) Logout(ctx context.Context, identity domain.Identity) (err error) {
	ctx, span := s.startSpan(ctx, "session.logout", attribute.String("auth.user_id", identity.UserID))
	defer func() { endSpan(span, err) }()

	if identity.TokenID == "" || identity.UserID == "" {
		return ErrUnauthenticated
	}

	// The refresh token goes first: while the access token is still live a failed
	// logout can be retried with it.
	if err := s.clearRefreshToken(ctx, identity.UserID); err != nil && !isNotFound(err) {
		return serverError("clear refresh token", err)
	}

	revocation := domain.TokenRevocation{
		JTI:       identity.TokenID,
		UserID:    identity.UserID,
		ExpiresAt: identity.ExpiresAt,
		RevokedAt: s.now(),
	}
	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.registry.Revoke(ctx, revocation)
	}); err != nil {
		return serverError("revoke access token", err)
	}
	s.metrics.ObserveRevocation()
	s.publish(ctx, domain.TokenRevokedEvent{
		JTI:       revocation.JTI,
		UserID:    revocation.UserID,
		ExpiresAt: revocation.ExpiresAt,
		RevokedAt: revocation.RevokedAt,
	})

	s.publish(ctx, domain.SessionEvent{
		Kind:       domain.EventSessionEnded,
		UserID:     identity.UserID,
		TokenID:    identity.TokenID,
		OccurredAt: revocation.RevokedAt,
	})
	return nil
}

// ChangeCredential requires the current credential again before replacing it.
func (s *SessionService) ChangeCredential(ctx context.Context, identity domain.Identity, current, next string) (err error) {
	ctx, span := s.startSpan(ctx, "session.change_credential", attribute.String("auth.user_id", identity.UserID))
	defer func() { endSpan(span, err) }()

	if identity.UserID == "" {
		return ErrUnauthenticated
	}
	if current == "" || next == "" {
		return invalidInput("current and new credential are required")
	}

	record, err := s.findByID(ctx, identity.UserID)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return serverError("find user", err)
	}

	ok, err := s.hasher.Verify(current, record.CredentialHash)
	if err != nil {
		return serverError("verify credential", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return serverError("hash credential", err)
	}

	if err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.store.UpdateCredential(ctx, record.ID, hash)
	}); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return serverError("update credential", err)
	}

	sessionsEnded := false
	if s.cfg.RevokeOnCredentialChange {
		if err := s.clearRefreshToken(ctx, record.ID); err != nil && !isNotFound(err) {
			return serverError("clear refresh token", err)
		}
		sessionsEnded = true
	}

	s.publish(ctx, domain.CredentialEvent{
		Kind:          domain.EventCredentialChanged,
		UserID:        record.ID,
		SessionsEnded: sessionsEnded,
		OccurredAt:    s.now(),
	})
	return nil
}
