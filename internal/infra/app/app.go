package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
	"github.com/arklim/auth-session-service/internal/infra/config"
	"github.com/arklim/auth-session-service/internal/infra/database"
	kafkainfra "github.com/arklim/auth-session-service/internal/infra/kafka"
	mongoinfra "github.com/arklim/auth-session-service/internal/infra/mongo"
	redisinfra "github.com/arklim/auth-session-service/internal/infra/redis"
	"github.com/arklim/auth-session-service/internal/infra/security"
	"github.com/arklim/auth-session-service/internal/infra/telemetry"
	"github.com/arklim/auth-session-service/internal/repository/memory"
	mongorepo "github.com/arklim/auth-session-service/internal/repository/mongo"
	postgresrepo "github.com/arklim/auth-session-service/internal/repository/postgres"
	redisrepo "github.com/arklim/auth-session-service/internal/repository/redis"
	transportgrpc "github.com/arklim/auth-session-service/internal/transport/grpc"
	"github.com/arklim/auth-session-service/internal/transport/grpc/interceptors"
	"github.com/arklim/auth-session-service/internal/transport/http/middleware"
	"github.com/arklim/auth-session-service/internal/transport/http/routes"
	"github.com/arklim/auth-session-service/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Application owns every long-lived resource of the service.
type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	grpcServer *transportgrpc.Server
	grpcAddr   string

	// background jobs started by Run, stopped with its context.
	sweeper  *security.RevocationRegistry
	consumer *kafkainfra.Consumer
	handler  *kafkainfra.RevocationConsumer
	topics   []string

	closers []func(context.Context) error
}

// New wires the configured backends, services and transports. Resources opened
// before a failure are released.
func New(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (_ *Application, err error) {
	a := &Application{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, tp.Shutdown)
	}

	healthChecks := map[string]port.HealthChecker{}

	var redisClient *redisinfra.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return redisClient.Close() })
		healthChecks["redis"] = redisClient
	}

	store, release, err := OpenCredentialStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if release != nil {
		a.closers = append(a.closers, release)
	}
	healthChecks["store"] = store

	var registry port.RevocationRegistry
	switch cfg.Revocation.Backend {
	case "redis":
		registry = redisrepo.NewRevocationRegistry(redisClient.Client(), cfg.Redis.RevocationPrefix)
	default:
		local := security.NewRevocationRegistry()
		a.sweeper = local
		registry = local
	}

	events := a.eventPublisher(registry)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics, err := telemetry.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: reg})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("init argon2: %w", err)
	}

	codec, err := security.NewTokenCodec(security.CodecConfig{
		AccessSecret:  []byte(cfg.JWT.AccessSecret),
		RefreshSecret: []byte(cfg.JWT.RefreshSecret),
		ResetSecret:   []byte(cfg.JWT.ResetSecret),
		Issuer:        cfg.JWT.Issuer,
		AccessTTL:     cfg.JWT.AccessTokenTTL,
		RefreshTTL:    cfg.JWT.RefreshTokenTTL,
		ResetTTL:      cfg.JWT.ResetTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init token codec: %w", err)
	}

	opts := []usecase.Option{
		usecase.WithLogger(log),
		usecase.WithEvents(events),
		usecase.WithMetrics(metrics),
		usecase.WithStoreTimeout(cfg.Store.OperationTimeout),
	}

	sessions := usecase.NewSessionService(store, hasher, codec, registry, usecase.SessionConfig{
		RevokeOnCredentialChange: cfg.Session.RevokeOnCredentialChange,
		DegradationPolicy:        domain.NewDegradationPolicy(domain.DegradationPolicyMode(cfg.Revocation.DegradationPolicy)),
	}, opts...)
	registration := usecase.NewRegistrationService(store, hasher, opts...)
	recovery := usecase.NewRecoveryService(store, hasher, codec, opts...)

	var rateLimitStore port.RateLimitStore = memory.NewRateLimitStore()
	if redisClient != nil {
		window := cfg.RateLimit.WindowDuration
		if window <= 0 {
			window = 15 * time.Minute
		}
		rateLimitStore = redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
			KeyPrefix: cfg.Redis.RateLimitPrefix,
			TTL:       window * 2,
		})
	}

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: middleware.NewRateLimiter(rateLimitStore, log),
		HTTPMetrics: httpMetrics,
		Gatherer:    reg,
		Services: routes.ServiceSet{
			Sessions:     sessions,
			Registration: registration,
			Recovery:     recovery,
		},
		HealthChecks: healthChecks,
	})

	if cfg.GRPC.Port > 0 {
		var tracing *interceptors.TracingOptions
		if cfg.Telemetry.TracingEnabled {
			tracing = &interceptors.TracingOptions{}
		}
		a.grpcServer, err = transportgrpc.NewServer(transportgrpc.ServerDependencies{
			Sessions:   sessions,
			Logger:     log,
			Registerer: reg,
			Tracing:    tracing,
		})
		if err != nil {
			return nil, fmt.Errorf("init grpc server: %w", err)
		}
		a.grpcAddr = fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	}

	return a, nil
}

// CredentialStore is a credential store that can report its own health.
type CredentialStore interface {
	port.CredentialStore
	port.HealthChecker
}

// OpenCredentialStore connects the backend selected by store.driver. The returned
// release func is nil when nothing needs closing.
func OpenCredentialStore(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (CredentialStore, func(context.Context) error, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres: %w", err)
		}
		release := func(context.Context) error { pool.Close(); return nil }
		if cfg.Postgres.AutoMigrate {
			if err := database.MigratePool(ctx, pool, log); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return postgresrepo.NewCredentialStore(pool), release, nil
	case "mongo":
		client, err := mongoinfra.Connect(ctx, cfg.Mongo, log)
		if err != nil {
			return nil, nil, fmt.Errorf("init mongo: %w", err)
		}
		store := mongorepo.NewCredentialStore(client.Collection())
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return store, client.Close, nil
	default:
		log.Warn("using in-memory credential store; users are lost on restart")
		return memory.NewCredentialStore(), nil, nil
	}
}

func (a *Application) eventPublisher(registry port.RevocationRegistry) port.EventPublisher {
	kcfg := a.cfg.Kafka
	if len(kcfg.Brokers) == 0 {
		a.logger.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(kcfg, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(a.logger)
	}
	a.closers = append(a.closers, func(context.Context) error { return producer.Close() })
	a.logger.Info("kafka event publisher initialized", zap.Strings("brokers", kcfg.Brokers))

	// Only process-local registries need peers' revocations replayed into them.
	if kcfg.ConsumerEnabled && a.sweeper != nil {
		groupID := kafkainfra.RevocationGroupID(kcfg.TopicPrefix, a.cfg.App.InstanceID)
		consumer, err := kafkainfra.NewConsumer(kcfg.Brokers, groupID, a.logger)
		if err != nil {
			a.logger.Warn("failed to init revocation consumer", zap.Error(err))
		} else {
			a.consumer = consumer
			a.handler = kafkainfra.NewRevocationConsumer(registry, a.cfg.App.InstanceID, a.logger)
			a.topics = []string{producer.TopicName(string(domain.EventTokenRevoked))}
			a.closers = append(a.closers, func(context.Context) error { return consumer.Close() })
		}
	}

	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

// Run serves HTTP and gRPC until ctx is cancelled or a server fails.
func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)

	if a.sweeper != nil {
		g.Go(func() error {
			a.sweeper.Run(gctx, a.cfg.Revocation.SweepInterval, a.logger)
			return nil
		})
	}

	if a.consumer != nil {
		g.Go(func() error {
			a.logger.Info("starting revocation consumer", zap.Strings("topics", a.topics))
			if err := a.consumer.Consume(gctx, a.topics, a.handler); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("revocation consumer: %w", err)
			}
			return nil
		})
	}

	if a.grpcServer != nil {
		lis, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
		g.Go(func() error {
			if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("run grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.grpcServer.Shutdown()
			return nil
		})
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth session API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("store", a.cfg.Store.Driver),
		zap.String("revocation_backend", a.cfg.Revocation.Backend),
	)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("run server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// close releases resources in reverse order of acquisition.
func (a *Application) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("failed to release resource", zap.Error(err))
		}
	}
	a.closers = nil
}
