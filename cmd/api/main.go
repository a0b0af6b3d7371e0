package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/cashflow-assistant/internal/api"
	"github.com/dvloznov/cashflow-assistant/internal/api/handlers"
	"github.com/dvloznov/cashflow-assistant/internal/app"
	"github.com/dvloznov/cashflow-assistant/internal/config"
	"github.com/dvloznov/cashflow-assistant/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CASHFLOW_CONFIG"), "Path to TOML config (or set CASHFLOW_CONFIG env)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := logger.New(logger.Options{})
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: logger.Format(cfg.Log.Format),
	})

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build service")
	}
	defer a.Close()

	// Start export worker and schedule in background
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	h := api.Handlers{
		Sessions:   handlers.NewSessionsHandler(a.Dispatcher, a.Sessions),
		Projection: handlers.NewProjectionHandler(a.Projector),
	}
	if a.Export != nil {
		go func() {
			log.Info().Msg("Starting export worker")
			if err := a.Export.Queue.Start(workerCtx, a.Export.Runner.Handle); err != nil {
				log.Error().Err(err).Msg("Export worker stopped with error")
			}
		}()
		a.Export.Scheduler.Start()
		h.Jobs = handlers.NewJobsHandler(a.Export.Jobs)
		log.Info().Str("schedule", cfg.Export.Schedule).Msg("Export schedule started")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(h, log),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("ledger", cfg.Ledger.Backend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if a.Export != nil {
		a.Export.Scheduler.Stop(shutdownCtx)
		cancelWorker()
		if err := a.Export.Queue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping export queue")
		}
		if err := a.Export.Queue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close export queue")
		}
	}

	log.Info().Msg("Server exited")
}
