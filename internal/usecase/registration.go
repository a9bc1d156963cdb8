package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
	appLogger "github.com/arklim/auth-session-service/internal/infra/logger"
	"github.com/arklim/auth-session-service/internal/repository"
)

const maxNameLength = 64

// RegisterInput is the data required to create a user. Question and Answer are optional but paired.
type RegisterInput struct {
	Name       string
	Credential string
	Question   string
	Answer     string
}

// RegistrationService creates user records.
type RegistrationService struct {
	*base
}

func NewRegistrationService(store port.CredentialStore, hasher port.SecretHasher, opts ...Option) *RegistrationService {
	return &RegistrationService{base: newBase(store, hasher, opts)}
}

// Register hashes the credential and answer and inserts a new record.
// An existing name is left untouched and reported as ErrDuplicateName.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (user domain.PublicIdentity, err error) {
	ctx, span := s.startSpan(ctx, "registration.register")
	defer func() { endSpan(span, err) }()

	name, err := normalizeName(in.Name)
	if err != nil {
		return domain.PublicIdentity{}, err
	}
	if in.Credential == "" {
		return domain.PublicIdentity{}, invalidInput("credential is required")
	}
	question := strings.TrimSpace(in.Question)
	if (question == "") != (in.Answer == "") {
		return domain.PublicIdentity{}, invalidInput("recovery question and answer must be provided together")
	}

	credentialHash, err := s.hasher.Hash(in.Credential)
	if err != nil {
		return domain.PublicIdentity{}, serverError("hash credential", err)
	}

	var answerHash string
	if in.Answer != "" {
		answerHash, err = s.hasher.Hash(in.Answer)
		if err != nil {
			return domain.PublicIdentity{}, serverError("hash recovery answer", err)
		}
	}

	now := s.now()
	record := domain.UserRecord{
		ID:                 ulid.Make().String(),
		Name:               name,
		CredentialHash:     credentialHash,
		RecoveryQuestion:   question,
		RecoveryAnswerHash: answerHash,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var stored *domain.UserRecord
	err = s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		stored, err = s.store.Insert(ctx, record)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			s.log(ctx).Info("registration rejected: duplicate name", zap.String("name", appLogger.MaskName(name)))
			return domain.PublicIdentity{}, ErrDuplicateName
		}
		return domain.PublicIdentity{}, serverError("insert user", err)
	}
	span.SetAttributes(attribute.String("auth.user_id", stored.ID))

	s.publish(ctx, domain.UserRegisteredEvent{
		UserID:       stored.ID,
		Name:         stored.Name,
		HasRecovery:  stored.HasRecovery(),
		RegisteredAt: now,
	})
	return stored.Public(), nil
}

// normalizeName trims surrounding space. Case is preserved; names are case-sensitive.
func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", invalidInput("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", invalidInput("name is too long")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", invalidInput("name contains control characters")
		}
	}
	return name, nil
}
