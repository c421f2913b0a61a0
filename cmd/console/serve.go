package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jrsteele09/hms-console/internal/config"
	"github.com/jrsteele09/hms-console/server"
	"github.com/jrsteele09/hms-console/token"
	"github.com/jrsteele09/hms-console/token/refresh/refreshrepofake"
	fakeuserrepo "github.com/jrsteele09/hms-console/users/repofake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveDevCmd(conf func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-dev",
		Short: "Run the reference backend with demo staff accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(conf())
		},
	}
}

func run(c config.Config) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	displayAppname(c.GetAppName())

	users := fakeuserrepo.NewFakeUserRepo()
	if err := server.SeedStaff(users, server.DemoStaff, log.Logger); err != nil {
		return err
	}

	repos := server.Repos{
		Users:         users,
		RefreshTokens: refreshrepofake.NewFakeRefreshTokenRepo(),
		Revoked:       token.NewInMemoryRevokedTokenCache(),
	}
	if c.GetStoreKind() == config.StoreKindRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		defer client.Close()
		repos.Revoked = token.NewRedisRevokedTokenCache(client, "hms:")
	}

	registry := prometheus.NewRegistry()
	handler, err := server.New(c, repos, server.WithRegistry(registry))
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: c.GetPort(), Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(srv) }()

	select {
	case err := <-errCh:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}
