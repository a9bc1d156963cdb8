package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/auth-session-service/internal/core/port"
	"github.com/arklim/auth-session-service/internal/infra/config"
	"github.com/arklim/auth-session-service/internal/transport/http/handlers"
	"github.com/arklim/auth-session-service/internal/transport/http/middleware"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Sessions     handlers.SessionManager
	Registration handlers.Registrar
	Recovery     handlers.RecoveryFlow
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config       *config.AppConfig
	Logger       *zap.Logger
	RateLimiter  *middleware.RateLimiter
	HTTPMetrics  *middleware.HTTPMetrics
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer     prometheus.Gatherer
	Services     ServiceSet
	HealthChecks map[string]port.HealthChecker
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recover(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.CORS(deps.Config.App.CORSAllowedOrigins))
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.HTTPMetrics.Handler())

	healthHandler := handlers.NewHealthHandler(deps.HealthChecks)
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	authGroup := r.Group("/api/v1/auth")
	if deps.Services.Sessions != nil && deps.Services.Registration != nil {
		authHandler := handlers.NewAuthHandler(deps.Services.Sessions, deps.Services.Registration)
		authHandler.RegisterRoutes(authGroup, buildLimiter(deps, "auth_login_ip", deps.Config.RateLimit.LoginMaxAttempts)...)
	}

	if deps.Services.Recovery != nil {
		recoveryHandler := handlers.NewRecoveryHandler(deps.Services.Recovery)
		recoveryHandler.RegisterRoutes(authGroup.Group("/recovery"),
			buildLimiter(deps, "auth_recovery_ip", deps.Config.RateLimit.RecoveryMaxAttempts)...)
	}

	return r
}

func buildLimiter(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = 15 * time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
