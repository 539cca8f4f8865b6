// SPDX-License-Identifier: MIT

// Command daemon runs the txstream event bus: Redis-backed pub/sub fan-out
// with replay-on-reconnect, exposed over HTTP and websockets.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/closingdesk/txstream/internal/api"
	"github.com/closingdesk/txstream/internal/bus"
	"github.com/closingdesk/txstream/internal/config"
	"github.com/closingdesk/txstream/internal/log"
	"github.com/closingdesk/txstream/internal/pubsub"
	"github.com/closingdesk/txstream/internal/store"
)

func main() {
	if err := run(); err != nil {
		logger := log.Base()
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Config loading already initialised the logger; only the level can
	// still change afterwards.
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	logger := log.Base()

	client, err := store.NewClient(store.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	logger.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("connected to Redis")

	st := store.NewRedisStore(client, log.WithComponent("store"))
	transport := pubsub.NewRedisTransport(client, log.WithComponent("pubsub"))

	eventBus := bus.New(cfg, transport, st, log.WithComponent("bus"))
	defer eventBus.Close()

	server := api.NewServer(eventBus, st.HealthCheck, log.WithComponent("api"))
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if closeErr := st.Close(); closeErr != nil {
		logger.Warn().Err(closeErr).Msg("redis close failed")
	}
	return err
}
