// SPDX-License-Identifier: MIT

// Command stemsyncd runs the karaoke asset service: the HTTP API, the
// processing dispatcher, startup reconciliation, and the scheduled
// dependency health checks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stemsync/stemsync/internal/api"
	"github.com/stemsync/stemsync/internal/config"
	"github.com/stemsync/stemsync/internal/db"
	"github.com/stemsync/stemsync/internal/deezer"
	"github.com/stemsync/stemsync/internal/dispatch"
	"github.com/stemsync/stemsync/internal/feed"
	"github.com/stemsync/stemsync/internal/health"
	"github.com/stemsync/stemsync/internal/log"
	"github.com/stemsync/stemsync/internal/lyrics"
	"github.com/stemsync/stemsync/internal/modelhost"
	"github.com/stemsync/stemsync/internal/pipeline"
	"github.com/stemsync/stemsync/internal/status"
	"github.com/stemsync/stemsync/internal/store"
	"github.com/stemsync/stemsync/internal/version"
)

const shutdownTimeout = 15 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("stemsyncd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// .env is optional; deployed environments set variables directly.
	_ = godotenv.Load()

	if *configPath != "" {
		os.Setenv("STEMSYNC_CONFIG", *configPath)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger := log.Base()
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Msg("invalid configuration")
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "stemsync",
		Pretty:  cfg.Debug,
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DB.Path, db.DefaultConfig())
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "db.open_failed").
			Str(log.FieldPath, cfg.DB.Path).
			Msg("cannot open database")
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error().Err(err).Msg("database close failed")
		}
	}()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "db.migrate_failed").
			Msg("database migration failed")
	}
	if cfg.Admin.Username != "" {
		if _, err := database.EnsureAdmin(ctx, cfg.Admin.Username); err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "admin.bootstrap_failed").
				Str(log.FieldUsername, cfg.Admin.Username).
				Msg("admin bootstrap failed")
		}
	}

	st, err := store.New(cfg.Store.DataDir)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str(log.FieldPath, cfg.Store.DataDir).
			Msg("cannot open artifact store")
	}

	source := deezer.New(cfg.Source)
	models := modelhost.New(cfg.ModelHost)
	references := lyrics.New(cfg.Lyrics)

	registry := status.NewRegistry()
	fd := feed.New(registry)

	pipe, err := pipeline.New(pipeline.Deps{
		Store:    st,
		Source:   source,
		Models:   models,
		Lyrics:   references,
		Registry: registry,
		Feed:     fd,
		Recorder: database,
		StemKbps: cfg.Store.StemBitrateKbps,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot build pipeline")
	}

	dispatcher := dispatch.New(ctx, dispatch.Config{
		MaxWorkers:     cfg.Pipeline.MaxWorkers,
		ReconcileDelay: cfg.Pipeline.ReconcileDelay,
		Stagger:        cfg.Pipeline.ReconcileStagger,
	}, st, registry, fd, pipe, database)

	checker := health.New(health.Deps{
		DB:         database,
		Store:      st,
		Registry:   registry,
		Source:     source,
		Models:     models,
		Generative: references,
	})
	healthCron, err := checker.Schedule(ctx, cfg.Health.Schedule)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "health.schedule_failed").
			Str("schedule", cfg.Health.Schedule).
			Msg("invalid health check schedule")
	}

	srv, err := api.New(api.Deps{
		Config:     *cfg,
		DB:         database,
		Store:      st,
		Registry:   registry,
		Feed:       fd,
		Dispatcher: dispatcher,
		Source:     source,
		Health:     checker,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot build api server")
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: event stream responses stay open indefinitely.
	}

	// Resume incomplete tracks once the service is up.
	go func() {
		if _, err := dispatcher.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("startup reconciliation failed")
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("event", "startup").
			Str("version", version.Version).
			Str("commit", version.Commit).
			Str("addr", cfg.Server.Addr()).
			Str("data_dir", cfg.Store.DataDir).
			Int64("max_workers", cfg.Pipeline.MaxWorkers).
			Bool("generative_lyrics", cfg.Lyrics.GenerativeEnabled()).
			Msg("stemsyncd listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Str("event", "shutdown").Msg("shutdown signal received")
	case err := <-serverErr:
		logger.Error().Err(err).Str("event", "server.failed").Msg("http server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown incomplete")
	}

	// Stop scheduled checks, then wait for in-flight pipeline workers.
	<-healthCron.Stop().Done()
	dispatcher.Wait()

	logger.Info().Str("event", "shutdown.complete").Msg("server exiting")
}
