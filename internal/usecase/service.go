package usecase

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
	appLogger "github.com/arklim/auth-session-service/internal/infra/logger"
	"github.com/arklim/auth-session-service/internal/infra/telemetry"
)

const defaultStoreTimeout = 3 * time.Second

// Option customises the collaborators shared by every service in this package.
type Option func(*base)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithEvents sets the publisher for domain events.
func WithEvents(events port.EventPublisher) Option {
	return func(b *base) {
		if events != nil {
			b.events = events
		}
	}
}

// WithMetrics sets the domain counters.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(b *base) { b.metrics = metrics }
}

// WithStoreTimeout bounds every credential store call.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(b *base) {
		if timeout > 0 {
			b.storeTimeout = timeout
		}
	}
}

// WithClock overrides the clock for deterministic testing.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domain.Event) error { return nil }

type base struct {
	store        port.CredentialStore
	hasher       port.SecretHasher
	logger       *zap.Logger
	events       port.EventPublisher
	metrics      *telemetry.Metrics
	storeTimeout time.Duration
	now          func() time.Time
	tracer       trace.Tracer

	dummyHash string
}

func newBase(store port.CredentialStore, hasher port.SecretHasher, opts []Option) *base {
	b := &base{
		store:        store,
		hasher:       hasher,
		logger:       zap.NewNop(),
		events:       noopPublisher{},
		storeTimeout: defaultStoreTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		tracer:       telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if hasher != nil {
		if hash, err := hasher.Hash("unused-credential-placeholder"); err == nil {
			b.dummyHash = hash
		}
	}
	return b
}

func (b *base) log(ctx context.Context) *zap.Logger {
	return appLogger.FromContext(ctx, b.logger)
}

// storeCall runs fn under the configured store deadline.
func (b *base) storeCall(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.storeTimeout)
	defer cancel()
	return fn(ctx)
}

func (b *base) findByName(ctx context.Context, name string) (*domain.UserRecord, error) {
	var record *domain.UserRecord
	err := b.storeCall(ctx, func(ctx context.Context) error {
		var err error
		record, err = b.store.FindByName(ctx, name)
		return err
	})
	return record, err
}

func (b *base) findByID(ctx context.Context, id string) (*domain.UserRecord, error) {
	var record *domain.UserRecord
	err := b.storeCall(ctx, func(ctx context.Context) error {
		var err error
		record, err = b.store.FindByID(ctx, id)
		return err
	})
	return record, err
}

func (b *base) clearRefreshToken(ctx context.Context, id string) error {
	return b.storeCall(ctx, func(ctx context.Context) error {
		return b.store.ClearRefreshToken(ctx, id)
	})
}

// burnVerify spends one verification on a fixed hash so an unknown name costs the same as a wrong credential.
func (b *base) burnVerify(secret string) {
	if b.dummyHash != "" {
		_, _ = b.hasher.Verify(secret, b.dummyHash)
	}
}

// publish never fails the calling operation.
func (b *base) publish(ctx context.Context, event domain.Event) {
	if err := b.events.Publish(ctx, event); err != nil {
		b.log(ctx).Warn("publish event failed",
			zap.String("event_type", string(event.Type())),
			zap.Error(err),
		)
	}
}

func (b *base) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span. Caller-input errors are not span failures.
func endSpan(span trace.Span, err error) {
	switch {
	case err == nil:
	case isServerError(err):
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrServerError.Error())
	default:
		span.SetAttributes(attribute.String("auth.rejected", err.Error()))
	}
	span.End()
}
