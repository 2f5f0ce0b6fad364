package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/huddle/internal/adapter/driven/auth"
	"github.com/Wyydra/huddle/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/huddle/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/huddle/internal/adapter/driven/persistence/redis"
	handler "github.com/Wyydra/huddle/internal/adapter/driving/http"
	"github.com/Wyydra/huddle/internal/config"
	"github.com/Wyydra/huddle/internal/core/port"
	"github.com/Wyydra/huddle/internal/core/service"
	"github.com/Wyydra/huddle/internal/logging"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "address to listen on")
	serveCmd.Flags().String("moderation-policy", "", "who may moderate: host or open")
	serveCmd.Flags().String("redis-addr", "", "mirror room presence into this Redis server")
	_ = v.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("moderation.policy", serveCmd.Flags().Lookup("moderation-policy"))
	_ = v.BindPFlag("redis.addr", serveCmd.Flags().Lookup("redis-addr"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServer(v, configFile)
	if err != nil {
		return err
	}
	l, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		return err
	}

	policy, err := service.PolicyByName(cfg.ModerationPolicy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var presence port.PresenceRepository
	if cfg.Redis.Addr != "" {
		repo, err := redis.Connect(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.PresenceTTL,
		})
		if err != nil {
			return err
		}
		defer repo.Close()
		presence = repo
		l.Info().Str("addr", cfg.Redis.Addr).Msg("Mirroring presence to Redis")
	} else {
		presence = memory.NewPresenceRepository()
	}

	registry := service.NewRegistry()
	hub := ws.NewHub()

	opts := []service.RelayOption{
		service.WithPresence(presence),
		service.WithAuthorizer(policy),
	}
	if cfg.JWTSecret != "" {
		opts = append(opts, service.WithTokenVerifier(auth.NewTokenService(cfg.JWTSecret)))
	} else {
		l.Info().Msg("No auth.jwt_secret set, moderator tokens are disabled")
	}
	relay := service.NewRelay(registry, hub, opts...)

	go hub.Run(relay)

	h := handler.NewHandler(hub, presence, cfg.AllowedOrigins)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info().Str("addr", cfg.Listen).Str("moderation_policy", cfg.ModerationPolicy).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	l.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	registry.Close()
	l.Info().Msg("Server exited")
	return nil
}
