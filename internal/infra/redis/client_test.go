package redis

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/arklim/auth-session-service/internal/infra/config"
)

func settingsFor(t *testing.T, mr *miniredis.Miniredis) config.RedisSettings {
	t.Helper()
	host, portStr, ok := strings.Cut(mr.Addr(), ":")
	if !ok {
		t.Fatalf("unexpected miniredis addr %q", mr.Addr())
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return config.RedisSettings{Enabled: true, Host: host, Port: port}
}

func TestNewClientPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), settingsFor(t, mr), zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := client.Client().Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("expected value to reach server, got %q", got)
	}
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	settings := settingsFor(t, mr)
	mr.Close()

	if _, err := NewClient(context.Background(), settings, zap.NewNop()); err == nil {
		t.Fatalf("expected error for closed server")
	}
}

func TestOptionsEnableTLS(t *testing.T) {
	opts := Options(config.RedisSettings{Host: "cache", Port: 6380, TLSEnabled: true})
	if opts.Addr != "cache:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.TLSConfig == nil {
		t.Fatalf("expected tls config")
	}
}
