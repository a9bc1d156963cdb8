package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "AUTH"

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	GRPC       GRPCSettings       `mapstructure:"grpc"`
	Store      StoreSettings      `mapstructure:"store"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Mongo      MongoSettings      `mapstructure:"mongo"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	JWT        JWTSettings        `mapstructure:"jwt"`
	Session    SessionSettings    `mapstructure:"session"`
	Revocation RevocationSettings `mapstructure:"revocation"`
	Argon2     Argon2Settings     `mapstructure:"argon2"`
	RateLimit  RateLimitSettings  `mapstructure:"rate_limit"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
	Sentry     SentrySettings     `mapstructure:"sentry"`
}

type AppSettings struct {
	Name               string   `mapstructure:"name"`
	Env                string   `mapstructure:"env"`
	Host               string   `mapstructure:"host"`
	Port               int      `mapstructure:"port"`
	InstanceID         string   `mapstructure:"instance_id"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// GRPCSettings configures the gRPC listener. Port 0 disables it.
type GRPCSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StoreSettings selects the credential store backend.
type StoreSettings struct {
	Driver           string        `mapstructure:"driver"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// DSN renders the connection string used by pgxpool and goose.
func (p PostgresSettings) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

type MongoSettings struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Collection     string        `mapstructure:"collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Enabled          bool   `mapstructure:"enabled"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	DB               int    `mapstructure:"db"`
	Password         string `mapstructure:"password"`
	TLSEnabled       bool   `mapstructure:"tls_enabled"`
	RevocationPrefix string `mapstructure:"revocation_prefix"`
	RateLimitPrefix  string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the event producer and the revocation consumer
type KafkaSettings struct {
	Brokers         []string `mapstructure:"brokers"`
	TopicPrefix     string   `mapstructure:"topic_prefix"`
	ConsumerEnabled bool     `mapstructure:"consumer_enabled"`
}

type JWTSettings struct {
	AccessSecret    string        `mapstructure:"access_secret"`
	RefreshSecret   string        `mapstructure:"refresh_secret"`
	ResetSecret     string        `mapstructure:"reset_secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	ResetTokenTTL   time.Duration `mapstructure:"reset_token_ttl"`
}

type SessionSettings struct {
	RevokeOnCredentialChange bool `mapstructure:"revoke_on_credential_change"`
}

type RevocationSettings struct {
	Backend           string        `mapstructure:"backend"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	DegradationPolicy string        `mapstructure:"degradation_policy"`
}

// Argon2Settings configures Argon2id hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint
type RateLimitSettings struct {
	WindowDuration      time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts    int           `mapstructure:"login_max_attempts"`
	RecoveryMaxAttempts int           `mapstructure:"recovery_max_attempts"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

type SentrySettings struct {
	DSN string `mapstructure:"dsn"`
}

// legacyEnv maps variable names used by earlier deployments onto config keys.
var legacyEnv = map[string]string{
	"jwt.access_secret":  "JWT_SECRET",
	"jwt.refresh_secret": "JWT_REFRESH_SECRET",
	"mongo.uri":          "MONGO_URI",
	"app.port":           "PORT",
}

var envKeys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"app.instance_id",
	"app.cors_allowed_origins",
	"grpc.host",
	"grpc.port",
	"store.driver",
	"store.operation_timeout",
	"postgres.host",
	"postgres.port",
	"postgres.user",
	"postgres.password",
	"postgres.database",
	"postgres.ssl_mode",
	"postgres.max_conns",
	"postgres.min_conns",
	"postgres.max_conn_lifetime",
	"postgres.max_conn_idle_time",
	"postgres.health_check_period",
	"postgres.auto_migrate",
	"mongo.uri",
	"mongo.database",
	"mongo.collection",
	"mongo.connect_timeout",
	"redis.enabled",
	"redis.host",
	"redis.port",
	"redis.db",
	"redis.password",
	"redis.tls_enabled",
	"redis.revocation_prefix",
	"redis.rate_limit_prefix",
	"kafka.brokers",
	"kafka.topic_prefix",
	"kafka.consumer_enabled",
	"jwt.access_secret",
	"jwt.refresh_secret",
	"jwt.reset_secret",
	"jwt.issuer",
	"jwt.access_token_ttl",
	"jwt.refresh_token_ttl",
	"jwt.reset_token_ttl",
	"session.revoke_on_credential_change",
	"revocation.backend",
	"revocation.sweep_interval",
	"revocation.degradation_policy",
	"argon2.memory",
	"argon2.iterations",
	"argon2.parallelism",
	"argon2.salt_length",
	"argon2.key_length",
	"rate_limit.window_duration",
	"rate_limit.login_max_attempts",
	"rate_limit.recovery_max_attempts",
	"telemetry.tracing_enabled",
	"telemetry.otlp_endpoint",
	"telemetry.service_name",
	"telemetry.sampling_rate",
	"sentry.dsn",
}

// Load reads configuration from the environment on top of built-in defaults.
func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, envKeys); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the service cannot run safely with.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		errs = append(errs, errors.New("jwt.access_secret and jwt.refresh_secret are required"))
	} else if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, errors.New("jwt.access_secret and jwt.refresh_secret must differ"))
	}
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 || c.JWT.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("jwt token ttls must be positive"))
	}

	switch c.Store.Driver {
	case "memory", "postgres", "mongo":
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Store.OperationTimeout <= 0 {
		errs = append(errs, errors.New("store.operation_timeout must be positive"))
	}

	switch c.Revocation.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("revocation.backend=redis requires redis.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown revocation.backend %q", c.Revocation.Backend))
	}

	if c.Store.Driver == "mongo" && c.Mongo.URI == "" {
		errs = append(errs, errors.New("mongo.uri is required for store.driver=mongo"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "local"
	}

	v.SetDefault("app.name", "auth-session-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 4000)
	v.SetDefault("app.instance_id", hostname)
	v.SetDefault("app.cors_allowed_origins", []string{"*"})

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 0)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.operation_timeout", "3s")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "auth")
	v.SetDefault("postgres.password", "auth_password")
	v.SetDefault("postgres.database", "auth")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "login")
	v.SetDefault("mongo.collection", "Usuarios")
	v.SetDefault("mongo.connect_timeout", "10s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.revocation_prefix", "auth:revoked")
	v.SetDefault("redis.rate_limit_prefix", "auth:rate-limit")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "auth")
	v.SetDefault("kafka.consumer_enabled", true)

	v.SetDefault("jwt.access_secret", "")
	v.SetDefault("jwt.refresh_secret", "")
	v.SetDefault("jwt.reset_secret", "")
	v.SetDefault("jwt.issuer", "auth-session-service")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")
	v.SetDefault("jwt.reset_token_ttl", "10m")

	v.SetDefault("session.revoke_on_credential_change", false)

	v.SetDefault("revocation.backend", "memory")
	v.SetDefault("revocation.sweep_interval", "1m")
	v.SetDefault("revocation.degradation_policy", "lenient")

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.recovery_max_attempts", 3)

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "auth-session-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("sentry.dsn", "")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		names := []string{envPrefix + "_" + envKey, envKey}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
