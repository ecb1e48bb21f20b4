package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/jackc/pgx/v5/pgxpool"

	migrations "github.com/concordchat/concord/db"
	"github.com/concordchat/concord/internal/boot"
	"github.com/concordchat/concord/internal/config"
	"github.com/concordchat/concord/internal/db"
	"github.com/concordchat/concord/internal/gateway"
	"github.com/concordchat/concord/internal/handlers"
	"github.com/concordchat/concord/internal/identity"
	"github.com/concordchat/concord/internal/logger"
	"github.com/concordchat/concord/internal/message"
	"github.com/concordchat/concord/internal/relay"
	"github.com/concordchat/concord/internal/server"
	"github.com/concordchat/concord/internal/version"
)

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fx.New(
		fx.Provide(
			provideConfig,
			boot.ProvideRuntimeConfig,
			provideLogger,

			provideDBConn,

			identity.NewService,
			message.NewStore,
			provideRelayService,
			provideGatewayHandler,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideHistoryHandler),

			provideServer,
		),
		fx.Invoke(
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func runMigrate(args []string) error {
	cfg, err := provideConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	command := "up"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}
	sub, err := fs.Sub(migrations.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	return db.RunMigrate(logger.L, cfg.Postgres, sub, command, args)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx := context.Background()

	conn, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideRelayService(log *slog.Logger, rc *boot.RuntimeConfig, identityService *identity.Service, messageStore *message.Store) *relay.Service {
	return relay.NewService(log, identityService, messageStore, relay.Options{
		MaxMessageLength: rc.MaxMessageLength,
		TypingTTL:        rc.TypingTTL,
		StoreTimeout:     rc.StoreTimeout,
		SessionBuffer:    rc.SessionBuffer,
	})
}

func provideGatewayHandler(log *slog.Logger, relayService *relay.Service, rc *boot.RuntimeConfig) *gateway.Handler {
	return gateway.NewHandler(log, relayService, rc)
}

func provideAuthHandler(log *slog.Logger, identityService *identity.Service, rc *boot.RuntimeConfig) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, identityService, rc.JwtSecret, rc.JwtExpiresIn)
}

func provideHistoryHandler(log *slog.Logger, relayService *relay.Service) *handlers.HistoryHandler {
	return handlers.NewHistoryHandler(log, relayService)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	Gateway        *gateway.Handler
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	all := append([]server.Handler{params.Gateway}, params.ServerHandlers...)
	return server.NewServer(params.Logger, params.RuntimeConfig.ServerAddr, params.RuntimeConfig.JwtSecret, all...)
}

func startServer(
	lc fx.Lifecycle,
	logger *slog.Logger,
	srv *server.Server,
	shutdowner fx.Shutdowner,
) {
	fmt.Printf("Starting Concord relay %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil { // block until server is stopped
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// graceful shutdown
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
