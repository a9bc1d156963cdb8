package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/arklim/auth-session-service/internal/infra/security"
)

func TestRunRequiresCommand(t *testing.T) {
	if err := run(context.Background(), nil, strings.NewReader(""), &bytes.Buffer{}); err != errUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"frobnicate"}, strings.NewReader(""), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "hash, introspect, migrate, register") {
		t.Fatalf("expected unknown command error listing commands, got %v", err)
	}
}

func TestHashReadsSecretFromStdin(t *testing.T) {
	var out bytes.Buffer
	args := []string{"hash", "-memory", "8192", "-iterations", "1", "-parallelism", "1"}
	if err := run(context.Background(), args, strings.NewReader("s3cret\n"), &out); err != nil {
		t.Fatalf("hash: %v", err)
	}

	encoded := strings.TrimSpace(out.String())
	if !strings.HasPrefix(encoded, "argon2id$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{Memory: 8192, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2Hasher: %v", err)
	}
	ok, err := hasher.Verify("s3cret", encoded)
	if err != nil || !ok {
		t.Fatalf("printed hash does not verify: ok=%v err=%v", ok, err)
	}
}

func TestHashRejectsEmptySecret(t *testing.T) {
	err := run(context.Background(), []string{"hash", "-memory", "8192", "-iterations", "1", "-parallelism", "1"}, strings.NewReader("\n"), &bytes.Buffer{})
	if err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestHashRejectsWeakParameters(t *testing.T) {
	err := run(context.Background(), []string{"hash", "-memory", "1024"}, strings.NewReader("s3cret\n"), &bytes.Buffer{})
	if err == nil {
		t.Fatalf("expected weak parameters to be rejected")
	}
}

func TestIntrospectRequiresToken(t *testing.T) {
	err := run(context.Background(), []string{"introspect"}, strings.NewReader(""), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "-token") {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func setRegisterEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_JWT_ACCESS_SECRET", "access-secret-0123456789")
	t.Setenv("AUTH_JWT_REFRESH_SECRET", "refresh-secret-0123456789")
	t.Setenv("AUTH_STORE_DRIVER", "memory")
	t.Setenv("AUTH_ARGON2_MEMORY", "8192")
	t.Setenv("AUTH_ARGON2_ITERATIONS", "1")
	t.Setenv("AUTH_ARGON2_PARALLELISM", "1")
}

func TestRegisterCreatesUser(t *testing.T) {
	setRegisterEnv(t)

	var out bytes.Buffer
	args := []string{"register", "-name", "alice", "-question", "city?"}
	if err := run(context.Background(), args, strings.NewReader("p1\nParis\n"), &out); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.HasPrefix(out.String(), "registered alice (") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRegisterRequiresAnswerWithQuestion(t *testing.T) {
	setRegisterEnv(t)

	args := []string{"register", "-name", "alice", "-question", "city?"}
	err := run(context.Background(), args, strings.NewReader("p1\n\n"), &bytes.Buffer{})
	if err == nil {
		t.Fatalf("expected question without answer to be rejected")
	}
}
