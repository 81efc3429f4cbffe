package main

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/gateway"
	"chat-relay/moderation"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"chat-relay/session"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the relay and blocks until SIGINT or SIGTERM.
// Returning instead of exiting lets the deferred cleanups run.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB) keeps users and rooms whatever the message backend
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	store, err := openMessageStore(ctx, config, db, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	censor, err := loadCensor(config, log)
	if err != nil {
		return err
	}

	// 3. Services
	tokens := auth.NewTokenManager(config.JWTSecret, config.AuthTokenDuration)
	accounts := services.NewAuthService(log, repositories.NewUserRepository(db), tokens)
	rooms := services.NewRoomService(log, repositories.NewRoomRepository(db))
	hub := runtime.NewHub(log, store, rooms, config.EchoToSender)
	chat := services.NewChatService(log, hub, rooms, censor, services.ChatConfig{
		MaxContentLength:    config.MaxContentLength,
		LegacyUnwrapContent: config.LegacyUnwrapContent,
	})

	// 4. Gateway
	gw := gateway.New(log, gateway.Config{
		AllowedOrigins: config.origins(),
		Session: session.Config{
			QueueSize:           config.OutboundQueueSize,
			MaxContentLength:    config.MaxContentLength,
			PingInterval:        config.PingInterval,
			PongWait:            config.PongWait,
			WriteWait:           config.WriteWait,
			RateLimitBurst:      config.RateLimitBurst,
			RateLimitRefill:     config.RateLimitRefill,
			LegacyUnwrapContent: config.LegacyUnwrapContent,
		},
	}, accounts, rooms, chat, hub, censor)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{Addr: address, Handler: gw.Router()}

	// 5. Supervision
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		workers.NewHTTPServerWorker(log, server, config.ShutdownTimeout),
		workers.NewHubReporterWorker(log, hub, config.ReportInterval),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()
	log.Info("Relay started", "address", address, "store", config.StoreBackend)

	// 6. Wait for Stop
	<-ctx.Done()
	log.Info("Shutting down gracefully...")
	hub.Shutdown(domain.GoingAway)
	<-done
	log.Info("Program stopped cleanly")
	return nil
}

func openMessageStore(ctx context.Context, config Config, db *badger.DB, log *slog.Logger) (repositories.IMessageRepository, error) {
	switch config.StoreBackend {
	case "badger":
		return repositories.NewMessageRepository(db, log, config.LimitMessages), nil
	case "postgres":
		return repositories.NewPostgresMessageRepository(ctx, config.DatabaseURL, log, config.LimitMessages)
	case "redis":
		return repositories.NewRedisMessageRepository(ctx, repositories.RedisConfig{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		}, log, config.LimitMessages)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownBackend, config.StoreBackend)
	}
}

// loadCensor returns nil when moderation is disabled.
func loadCensor(config Config, log *slog.Logger) (session.Censor, error) {
	if config.CensoredDir == "" {
		return nil, nil
	}
	words, err := moderation.LoadWords(os.DirFS(config.CensoredDir))
	if err != nil {
		return nil, fmt.Errorf("loading censored words: %w", err)
	}
	moderator, err := moderation.NewModerator(words, config.censorRune(), log)
	if err != nil {
		return nil, err
	}
	log.Info("Moderation enabled", "words", len(words))
	return moderator, nil
}
