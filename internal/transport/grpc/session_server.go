package transportgrpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/infra/logger"
	"github.com/arklim/auth-session-service/internal/transport/grpc/interceptors"
	"github.com/arklim/auth-session-service/internal/usecase"
)

// SessionEnder ends the session behind a verified identity.
type SessionEnder interface {
	Logout(ctx context.Context, identity domain.Identity) error
}

// SessionServer exposes token introspection and logout to internal services.
type SessionServer struct {
	sessions SessionEnder
	logger   *zap.Logger
}

// NewSessionServer constructs a SessionServer.
func NewSessionServer(sessions SessionEnder, log *zap.Logger) *SessionServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionServer{sessions: sessions, logger: log}
}

// Introspect reports the identity verified by the auth interceptor.
func (s *SessionServer) Introspect(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	identity, ok := interceptors.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	out, err := structpb.NewStruct(map[string]interface{}{
		"user_id":    identity.UserID,
		"name":       identity.Name,
		"token_id":   identity.TokenID,
		"issued_at":  identity.IssuedAt.UTC().Format(time.RFC3339),
		"expires_at": identity.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "encode identity")
	}
	return out, nil
}

// Logout revokes the caller's access token and clears their refresh token.
func (s *SessionServer) Logout(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	identity, ok := interceptors.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	if err := s.sessions.Logout(ctx, identity); err != nil {
		logger.FromContext(ctx, s.logger).Error("gRPC logout failed", zap.String("user_id", identity.UserID), zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, status.Error(codes.DeadlineExceeded, "logout timed out")
		}
		if errors.Is(err, usecase.ErrServerError) {
			return nil, status.Error(codes.Unavailable, "logout unavailable")
		}
		return nil, status.Error(codes.Internal, "logout failed")
	}
	return &emptypb.Empty{}, nil
}

var _ SessionServiceServer = (*SessionServer)(nil)
