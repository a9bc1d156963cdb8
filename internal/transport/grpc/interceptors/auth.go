package interceptors

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/infra/telemetry"
	"github.com/arklim/auth-session-service/internal/usecase"
)

const authorizationKey = "authorization"

// Authorizer is the access check shared with the HTTP transport.
type Authorizer interface {
	AuthorizeToken(ctx context.Context, token string) (domain.Identity, error)
}

// AuthOptions fine-tunes interceptor behaviour.
type AuthOptions struct {
	AllowMethods []string
	Logger       *zap.Logger
}

// AuthInterceptor validates incoming requests using bearer access tokens.
type AuthInterceptor struct {
	authorizer Authorizer
	logger     *zap.Logger
	allow      map[string]struct{}
}

// NewAuthInterceptor constructs a new AuthInterceptor instance.
func NewAuthInterceptor(authorizer Authorizer, opts AuthOptions) *AuthInterceptor {
	allow := make(map[string]struct{}, len(opts.AllowMethods))
	for _, method := range opts.AllowMethods {
		if method = strings.TrimSpace(method); method != "" {
			allow[method] = struct{}{}
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuthInterceptor{authorizer: authorizer, logger: logger, allow: allow}
}

// UnaryServerInterceptor returns a gRPC unary interceptor that enforces bearer authentication.
func (ai *AuthInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if ai == nil || ai.authorizer == nil {
			return handler(ctx, req)
		}

		if _, ok := ai.allow[info.FullMethod]; ok {
			return handler(ctx, req)
		}

		token, err := tokenFromMetadata(ctx)
		if err != nil {
			ai.logger.Debug("gRPC authentication failed", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}

		identity, err := ai.authorizer.AuthorizeToken(ctx, token)
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidToken) {
				ai.logger.Info("gRPC token rejected", zap.String("method", info.FullMethod))
				return nil, status.Error(codes.Unauthenticated, "invalid access token")
			}
			ai.logger.Error("gRPC token validation failed", zap.String("method", info.FullMethod), zap.Error(err))
			telemetry.CaptureException(ctx, err)
			return nil, status.Error(codes.Unavailable, "authentication unavailable")
		}

		return handler(WithIdentity(ctx, identity), req)
	}
}

type identityContextKey struct{}

// WithIdentity returns a derived context carrying the verified identity.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the identity stored by the auth interceptor.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	if ctx == nil {
		return domain.Identity{}, false
	}
	identity, ok := ctx.Value(identityContextKey{}).(domain.Identity)
	return identity, ok && identity.UserID != ""
}

func tokenFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("missing metadata")
	}

	values := md.Get(authorizationKey)
	if len(values) == 0 {
		return "", errors.New("authorization token required")
	}

	return usecase.BearerToken(values[0])
}
