package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/reposync/internal/analysis"
	"github.com/user/reposync/internal/config"
	"github.com/user/reposync/internal/github"
	"github.com/user/reposync/internal/reconciler"
	"github.com/user/reposync/internal/storage"
	"github.com/user/reposync/internal/task"
	"github.com/user/reposync/internal/webhook"
	"github.com/user/reposync/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Try to initialize basic logger for error output
		logger.Init("debug", "")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logger.Info().Msg("Starting reposyncd")

	// Initialize database
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	repos := storage.NewRepositoryStore(db)
	syncStore := storage.NewSyncStore(db)
	webhookStore := storage.NewWebhookStore(db)
	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	// Provider client and analysis collaborator
	ghClient := github.NewClient(cfg.GitHub.Token)
	generator := analysis.NewGenerator(cfg.Analysis.Endpoint, cfg.Analysis.APIKey, cfg.Analysis.Model)
	if generator.Enabled() {
		logger.Info().Str("model", cfg.Analysis.Model).Msg("Analysis collaborator enabled")
	}

	// Reconciler, dispatcher and sweep scheduler
	rec := reconciler.New(ghClient, repos, syncStore, generator,
		cfg.Sync.PageLimit, cfg.GitHub.Token != "")
	dispatcher := task.NewDispatcher(rec, cfg.Sync.Workers, cfg.Sync.QueueSize, cfg.Sync.MaxAttempts)
	dispatcher.Start()

	scheduler := task.NewScheduler(repos, dispatcher, cfg.Sync.Interval)
	scheduler.Start()

	// HTTP surface
	manager := webhook.NewManager(ghClient, repos, webhookStore, cfg.Webhook.PublicURL)
	receiver := webhook.NewHandler(repos, webhookStore, dispatcher)
	router := newRouter(&api{
		repos:      repos,
		manager:    manager,
		dispatcher: dispatcher,
		ghClient:   ghClient,
	}, receiver)

	server := &http.Server{
		Addr:    cfg.ServerAddress(),
		Handler: router,
	}

	go func() {
		logger.Info().Str("address", cfg.ServerAddress()).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scheduler.Stop()
	dispatcher.Stop()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("Shutdown complete")
}
