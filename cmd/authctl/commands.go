package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/arklim/auth-session-service/internal/infra/app"
	"github.com/arklim/auth-session-service/internal/infra/config"
	"github.com/arklim/auth-session-service/internal/infra/database"
	"github.com/arklim/auth-session-service/internal/infra/logger"
	"github.com/arklim/auth-session-service/internal/infra/security"
	transportgrpc "github.com/arklim/auth-session-service/internal/transport/grpc"
	"github.com/arklim/auth-session-service/internal/usecase"
)

var errUsage = errors.New("usage: authctl <migrate|register|hash|introspect> [flags]")

// readPassword is replaced in tests.
var readPassword = term.ReadPassword

type command func(ctx context.Context, args []string, in io.Reader, out io.Writer) error

var commands = map[string]command{
	"migrate":    migrateCmd,
	"register":   registerCmd,
	"hash":       hashCmd,
	"introspect": introspectCmd,
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		names := make([]string, 0, len(commands))
		for name := range commands {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Errorf("unknown command %q (available: %s)", args[0], strings.Join(names, ", "))
	}
	return cmd(ctx, args[1:], in, out)
}

// migrateCmd applies the embedded Postgres schema using the service configuration.
func migrateCmd(ctx context.Context, args []string, _ io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := database.MigratePool(ctx, pool, log); err != nil {
		return err
	}
	log.Info("migrations complete", zap.String("database", cfg.Postgres.Database))
	return nil
}

// registerCmd creates a user directly in the configured credential store.
func registerCmd(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(out)
	name := fs.String("name", "", "login name of the new user")
	question := fs.String("question", "", "optional recovery question; the answer is prompted for")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	store, release, err := app.OpenCredentialStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if release != nil {
		defer func() { _ = release(context.Background()) }()
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return err
	}

	secrets := newSecretReader(in, out)
	input := usecase.RegisterInput{Name: *name, Question: *question}
	if input.Credential, err = secrets.read("Enter credential: "); err != nil {
		return err
	}
	if input.Question != "" {
		if input.Answer, err = secrets.read("Enter recovery answer: "); err != nil {
			return err
		}
	}

	registration := usecase.NewRegistrationService(store, hasher,
		usecase.WithLogger(log),
		usecase.WithStoreTimeout(cfg.Store.OperationTimeout),
	)
	user, err := registration.Register(ctx, input)
	if err != nil {
		return fmt.Errorf("register %q: %w", *name, err)
	}

	_, err = fmt.Fprintf(out, "registered %s (%s)\n", user.Name, user.ID)
	return err
}

// hashCmd prints the Argon2id encoding of a secret read from the terminal or stdin.
func hashCmd(_ context.Context, args []string, in io.Reader, out io.Writer) error {
	defaults := security.DefaultArgon2Config()

	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(out)
	memory := fs.Uint("memory", uint(defaults.Memory), "argon2 memory in KiB")
	iterations := fs.Uint("iterations", uint(defaults.Iterations), "argon2 passes")
	parallelism := fs.Uint("parallelism", uint(defaults.Parallelism), "argon2 lanes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *parallelism > 255 {
		return fmt.Errorf("parallelism must be at most 255")
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      uint32(*memory),
		Iterations:  uint32(*iterations),
		Parallelism: uint8(*parallelism),
		SaltLength:  defaults.SaltLength,
		KeyLength:   defaults.KeyLength,
	})
	if err != nil {
		return err
	}

	secret, err := newSecretReader(in, out).read("Enter secret: ")
	if err != nil {
		return err
	}
	if secret == "" {
		return errors.New("secret must not be empty")
	}

	encoded, err := hasher.Hash(secret)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, encoded)
	return err
}

// introspectCmd asks a running instance who an access token belongs to.
func introspectCmd(ctx context.Context, args []string, _ io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("introspect", flag.ContinueOnError)
	fs.SetOutput(out)
	addr := fs.String("addr", "localhost:50051", "gRPC address of the service")
	token := fs.String("token", "", "access token to introspect")
	timeout := fs.Duration("timeout", 10*time.Second, "call timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		return errors.New("-token is required")
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", *addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+*token)

	identity, err := transportgrpc.NewSessionServiceClient(conn).Introspect(ctx, grpc.WaitForReady(true))
	if err != nil {
		return fmt.Errorf("introspect: %w", err)
	}

	fields := identity.AsMap()
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := fmt.Fprintf(out, "%s: %v\n", key, fields[key]); err != nil {
			return err
		}
	}
	return nil
}

// secretReader prompts without echo on a terminal and reads plain lines otherwise.
type secretReader struct {
	file  *os.File
	lines *bufio.Reader
	out   io.Writer
}

func newSecretReader(in io.Reader, out io.Writer) *secretReader {
	r := &secretReader{out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.file = f
		return r
	}
	r.lines = bufio.NewReader(in)
	return r
}

func (r *secretReader) read(prompt string) (string, error) {
	if r.file != nil {
		fmt.Fprint(r.out, prompt)
		secret, err := readPassword(int(r.file.Fd()))
		fmt.Fprintln(r.out)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(secret), nil
	}

	line, err := r.lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
