package config

import (
	"strings"
	"testing"
	"time"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_JWT_ACCESS_SECRET", "access-secret-0123456789")
	t.Setenv("AUTH_JWT_REFRESH_SECRET", "refresh-secret-0123456789")
}

func TestLoadDefaults(t *testing.T) {
	setSecrets(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.Port != 4000 {
		t.Fatalf("expected default port 4000, got %d", cfg.App.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("expected memory store driver, got %q", cfg.Store.Driver)
	}
	if cfg.Store.OperationTimeout != 3*time.Second {
		t.Fatalf("expected 3s store timeout, got %s", cfg.Store.OperationTimeout)
	}
	if cfg.JWT.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected 15m access ttl, got %s", cfg.JWT.AccessTokenTTL)
	}
	if cfg.JWT.RefreshTokenTTL != 168*time.Hour {
		t.Fatalf("expected 168h refresh ttl, got %s", cfg.JWT.RefreshTokenTTL)
	}
	if cfg.Session.RevokeOnCredentialChange {
		t.Fatalf("expected revoke_on_credential_change to default to false")
	}
	if cfg.Revocation.DegradationPolicy != "lenient" {
		t.Fatalf("expected lenient policy, got %q", cfg.Revocation.DegradationPolicy)
	}
}

func TestLoadLegacyVariables(t *testing.T) {
	t.Setenv("JWT_SECRET", "legacy-access-secret-01")
	t.Setenv("JWT_REFRESH_SECRET", "legacy-refresh-secret-01")
	t.Setenv("PORT", "8081")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("AUTH_STORE_DRIVER", "mongo")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.JWT.AccessSecret != "legacy-access-secret-01" {
		t.Fatalf("JWT_SECRET not mapped, got %q", cfg.JWT.AccessSecret)
	}
	if cfg.App.Port != 8081 {
		t.Fatalf("PORT not mapped, got %d", cfg.App.Port)
	}
	if cfg.Mongo.URI != "mongodb://localhost:27017" {
		t.Fatalf("MONGO_URI not mapped, got %q", cfg.Mongo.URI)
	}
}

func TestLoadPrefixWinsOverBareName(t *testing.T) {
	setSecrets(t)
	t.Setenv("AUTH_APP_PORT", "9000")
	t.Setenv("APP_PORT", "9001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Port != 9000 {
		t.Fatalf("expected prefixed variable to win, got %d", cfg.App.Port)
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without jwt secrets")
	}
}

func TestValidate(t *testing.T) {
	base := func() AppConfig {
		return AppConfig{
			Store:      StoreSettings{Driver: "memory", OperationTimeout: time.Second},
			Revocation: RevocationSettings{Backend: "memory"},
			JWT: JWTSettings{
				AccessSecret:    "access-secret-0123456789",
				RefreshSecret:   "refresh-secret-0123456789",
				AccessTokenTTL:  time.Minute,
				RefreshTokenTTL: time.Hour,
				ResetTokenTTL:   time.Minute,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*AppConfig) {}},
		{
			name:    "equal secrets",
			mutate:  func(c *AppConfig) { c.JWT.RefreshSecret = c.JWT.AccessSecret },
			wantErr: "must differ",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *AppConfig) { c.Store.Driver = "sqlite" },
			wantErr: "unknown store.driver",
		},
		{
			name:    "redis backend without redis",
			mutate:  func(c *AppConfig) { c.Revocation.Backend = "redis" },
			wantErr: "requires redis.enabled",
		},
		{
			name:    "mongo without uri",
			mutate:  func(c *AppConfig) { c.Store.Driver = "mongo" },
			wantErr: "mongo.uri is required",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *AppConfig) { c.Store.OperationTimeout = 0 },
			wantErr: "operation_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
