package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"

	"cinchat/handler"
	"cinchat/internal/integrations/chatapi"
	"cinchat/internal/integrations/paramstore"
	"cinchat/internal/repository"
	"cinchat/internal/usecase"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// ---- Configuration (read only here) ----
	serverPath := envOr("CINCHAT_SERVER_PATH", "http://localhost:3001")
	emailDomain := envOr("CINCHAT_EMAIL_DOMAIN", usecase.DefaultEmailDomain)
	timeout := time.Duration(envInt("CINCHAT_HTTP_TIMEOUT_SECONDS", 10)) * time.Second
	backend := strings.ToLower(envOr("CINCHAT_SESSION_BACKEND", "sqlite"))

	logger := newLogger(envOr("CINCHAT_LOG_LEVEL", "warn"))
	slog.SetDefault(logger)

	notifier := handler.NewConsoleNotifier(os.Stderr)

	// ---- Clients ----
	api, err := chatapi.NewClient(serverPath, chatapi.WithTimeout(timeout))
	if err != nil {
		slog.Error("failed to create chat API client", "err", err)
		return 1
	}

	storage, closeStorage, err := openStorage(ctx, backend)
	if err != nil {
		slog.Error("failed to open session storage", "backend", backend, "err", err)
		return 1
	}
	defer closeStorage()

	// ---- Use cases ----
	session, err := usecase.NewSessionManager(api, storage, notifier,
		usecase.WithEmailDomain(emailDomain),
		usecase.WithSessionLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create session manager", "err", err)
		return 1
	}
	session.Restore(ctx)

	chats, err := usecase.NewConversationStore(api, session, notifier,
		usecase.WithExpiryHandler(session.HandleAuthorizationExpired),
		usecase.WithStoreLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create conversation store", "err", err)
		return 1
	}

	// ---- CLI ----
	cli, err := handler.NewCLI(session, chats, notifier)
	if err != nil {
		slog.Error("failed to create CLI", "err", err)
		return 1
	}

	if err := cli.Command().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, handler.ErrReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

// openStorage builds the session backend and a func that releases it.
func openStorage(ctx context.Context, backend string) (usecase.SessionStorage, func(), error) {
	switch backend {
	case "sqlite":
		path := envOr("CINCHAT_SESSION_DB", defaultSessionDB())
		store, err := repository.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Warn("failed to close session database", "err", err)
			}
		}, nil

	case "dynamodb":
		table := mustEnv("CINCHAT_SESSION_TABLE")
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load AWS config: %w", err)
		}
		store, err := repository.New(awsdynamodb.NewFromConfig(cfg), table, envOr("CINCHAT_CLIENT_ID", defaultClientID()))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case "ssm":
		prefix := mustEnv("CINCHAT_PARAM_PREFIX")
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load AWS config: %w", err)
		}
		params, err := paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		vault, err := paramstore.NewVault(params, prefix)
		if err != nil {
			return nil, nil, err
		}
		return vault, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", backend)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func defaultSessionDB() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cinchat", "session.db")
	}
	return filepath.Join(home, ".cinchat", "session.db")
}

// defaultClientID is stable per host and OS user.
func defaultClientID() string {
	host, _ := os.Hostname()
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(host+"/"+name)).String()
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
