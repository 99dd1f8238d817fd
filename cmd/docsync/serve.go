package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docsync/api/internal/app"
	"docsync/api/internal/cache"
	"docsync/api/internal/collab"
	"docsync/api/internal/config"
	"docsync/api/internal/content"
	"docsync/api/internal/metrics"
	"docsync/api/internal/search"
	"docsync/api/internal/store"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collaboration server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file seeding the environment")
	return cmd
}

func serve(ctx context.Context, envFile string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	dataStore := store.NewPostgresStore(db)
	m := metrics.New()

	var contentCache cache.Store
	var sweep func(context.Context)
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(cfg.RedisURL, cfg.CacheTTL, cfg.RateLimit, logger.With("component", "cache"))
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisCache.Close()
		contentCache = redisCache
		logger.Info("using redis content cache")
	} else {
		memory := cache.NewMemory(cfg.CacheTTL, cfg.RateLimit)
		contentCache = memory
		sweep = memory.Run
		logger.Info("using in-memory content cache")
	}

	loader := content.NewLoader(dataStore, contentCache)
	collabServer := collab.NewServer(cfg.Collab(), loader,
		collab.WithLogger(logger.With("component", "collab")),
		collab.WithMetrics(m),
	)

	pg := search.NewPostgres(db)
	var index search.Index
	if cfg.MeiliURL != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.With("component", "search"))
		defer meili.Close()
		index = meili
	}
	mentions := search.NewService(index, pg, pg, logger.With("component", "search"))

	service := app.New(dataStore, collabServer, mentions)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, m.Handler(), logger.With("component", "http")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("docsync listening", "addr", cfg.Addr, "policy", string(cfg.LoadPolicy))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	if sweep != nil {
		g.Go(func() error {
			sweep(gctx)
			return nil
		})
	}
	if index != nil && cfg.ReindexMention {
		g.Go(func() error {
			mentions.ReindexAllFromPG(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		return errors.Join(err, collabServer.Shutdown(shutdownCtx))
	})
	return g.Wait()
}
