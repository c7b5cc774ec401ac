package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Relay/internal/adapters/http"
	"github.com/dkeye/Relay/internal/adapters/identity"
	"github.com/dkeye/Relay/internal/adapters/membership"
	"github.com/dkeye/Relay/internal/adapters/storage"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Log)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(c config.Log) {
	if c.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	validator, err := identity.NewJWTValidator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Leeway)
	if err != nil {
		return err
	}
	members, err := membership.Open(cfg.Membership.Driver, cfg.Membership.Path)
	if err != nil {
		return fmt.Errorf("membership: %w", err)
	}
	if c, ok := members.(io.Closer); ok {
		defer c.Close()
	}
	store, err := storage.Open(storage.Config{
		Driver:        cfg.Store.Driver,
		Path:          cfg.Store.Path,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("store close")
		}
	}()

	reg := app.NewRegistry()
	rooms := app.NewRoomRegistry(members, cfg.Membership.CacheTTL)
	subs := app.NewSubscriptionTable(rooms)
	msgRouter := app.NewMessageRouter(store, rooms, subs, reg, app.ClosePolicy{}, app.RouterConfig{
		MaxContentRunes: cfg.Chat.MaxContentRunes,
		SendTimeout:     cfg.Chat.SendTimeout,
		HistoryDefault:  cfg.History.DefaultLimit,
		HistoryMax:      cfg.History.MaxLimit,
		MaxReplay:       cfg.Chat.MaxReplay,
	})
	o := orch.New(reg, rooms, subs, msgRouter, validator, orch.Config{
		AuthTimeout:       cfg.Auth.Timeout,
		ValidateTimeout:   cfg.Auth.ValidateTimeout,
		MaxProtocolErrors: cfg.Chat.MaxProtocolErrors,
	})

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if w, ok := members.(core.MembershipWatcher); ok {
		g.Go(func() error {
			err := w.Watch(gctx, o.OnMembershipChanged)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		if err := o.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("sessions did not drain")
		}
		return nil
	})
	return g.Wait()
}
