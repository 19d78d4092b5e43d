package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/lobbychat/internal/auth"
	"github.com/Tyrowin/lobbychat/internal/cache"
	"github.com/Tyrowin/lobbychat/internal/config"
	"github.com/Tyrowin/lobbychat/internal/history"
	"github.com/Tyrowin/lobbychat/internal/hub"
	"github.com/Tyrowin/lobbychat/internal/logging"
	"github.com/Tyrowin/lobbychat/internal/server"
	"github.com/Tyrowin/lobbychat/internal/store"
	"github.com/Tyrowin/lobbychat/internal/store/memory"
	"github.com/Tyrowin/lobbychat/internal/store/sqlstore"
)

func main() {
	fs := pflag.NewFlagSet("lobbychat", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logging.Init(cfg.Log)
	l := logging.L()
	l.Info().Str("port", cfg.Server.Port).Str("driver", cfg.Database.Driver).Msg("starting LobbyChat server")

	if err := run(cfg); err != nil {
		l.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(cfg *config.Config) error {
	l := logging.L()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			l.Error().Err(err).Msg("closing store")
		}
	}()

	var historyCache cache.HistoryCache
	if cfg.Redis.Enabled() {
		rc, err := cache.NewRedisHistoryCache(cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = rc.Close() }()
		historyCache = rc
		l.Info().Str("addr", cfg.Redis.Address).Msg("history cache enabled")
	}

	tokens := auth.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	authSvc := auth.NewService(st, tokens, cfg.Auth.BcryptCost)
	historySvc := history.NewService(st, historyCache, cfg.Redis.TTL).WithFetchTimeout(cfg.Store.Timeout)

	chatHub := hub.NewHub(hub.NewConfig(cfg), historySvc)
	go chatHub.Run()

	handler := server.NewHandler(server.Deps{
		Auth:             authSvc,
		Tokens:           tokens,
		History:          historySvc,
		Hub:              chatHub,
		Origins:          server.NewOriginPolicy(cfg.WebSocket.AllowedOrigins),
		RequireWSToken:   cfg.WebSocket.RequireToken,
		UnifyLoginErrors: cfg.Auth.UnifyLoginErrors,
	})

	gin.SetMode(gin.ReleaseMode)
	httpServer := server.CreateServer(cfg.Server.Port, server.SetupRoutes(handler, l))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = chatHub.Shutdown(cfg.Server.ShutdownTimeout)
			return err
		}
	case sig := <-quit:
		l.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	// Hijacked websocket connections are not tracked by http.Server, so the
	// hub closes them itself.
	shutdownErr := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout)
	if err := chatHub.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		l.Warn().Err(err).Msg("hub shutdown incomplete")
	}
	return shutdownErr
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == config.DriverMemory {
		return memory.New(), nil
	}

	st, err := sqlstore.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}
