package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/savegress/vitalsync/internal/api"
	"github.com/savegress/vitalsync/internal/config"
	"github.com/savegress/vitalsync/internal/consumer"
	"github.com/savegress/vitalsync/internal/devices"
	"github.com/savegress/vitalsync/internal/metrics"
	"github.com/savegress/vitalsync/internal/pipeline"
	"github.com/savegress/vitalsync/internal/quality"
	"github.com/savegress/vitalsync/internal/store"
	"github.com/savegress/vitalsync/internal/syncer"
	"github.com/savegress/vitalsync/internal/ws"
	"github.com/savegress/vitalsync/pkg/models"
)

func main() {
	cfg := loadConfig()

	logger, err := newLogger(cfg.Server.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting VitalSync", zap.Int("port", cfg.Server.Port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core components
	catalog := metrics.NewCatalog(cfg.Metrics)
	st := store.New()
	pipe := pipeline.New(&cfg.Pipeline, catalog, st, logger)
	syncMgr := syncer.NewManager(&cfg.Sync, pipe, logger)
	reporter := quality.NewReporter(&cfg.Quality, st)
	registry := devices.NewRegistry(&cfg.Devices, logger)

	if err := registry.Start(ctx); err != nil {
		logger.Fatal("Failed to start device registry", zap.Error(err))
	}

	// Live feed
	hub := ws.NewHub(logger)
	go hub.Run()

	// Optional write-behind archive
	var archive *store.Archive
	if cfg.Storage.Type == "sqlite" {
		archive, err = store.NewArchive(cfg.Storage.DataPath, logger)
		if err != nil {
			logger.Fatal("Failed to open archive", zap.Error(err))
		}
	}

	pipe.SetDataCallback(func(p *models.NormalizedPoint) {
		hub.BroadcastPoint(p)
		if archive != nil {
			archive.SavePoint(p)
		}
	})
	syncMgr.SetRecordCallback(func(rec *models.SyncRecord) {
		hub.BroadcastSyncRecord(rec)
		if archive != nil {
			archive.SaveSyncRecord(rec)
		}
	})
	syncMgr.SetSyncedCallback(func(deviceID string) {
		// Devices unknown to the registry still sync fine
		_ = registry.Heartbeat(deviceID)
	})

	// Optional Redis Streams intake
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer client.Close()

		streamConsumer := consumer.NewStreamConsumer(&cfg.Redis, client, pipe, logger)
		go func() {
			if err := streamConsumer.Start(ctx); err != nil {
				logger.Error("Stream consumer stopped", zap.Error(err))
			}
		}()
	}

	// HTTP server
	server := api.NewServer(pipe, syncMgr, reporter, registry, hub, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("VitalSync API listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down VitalSync")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel()
	registry.Stop()
	hub.Stop()
	if archive != nil {
		if err := archive.Close(); err != nil {
			logger.Error("Archive close error", zap.Error(err))
		}
	}

	logger.Info("VitalSync stopped")
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func loadConfig() *config.Config {
	configPath := os.Getenv("VITALSYNC_CONFIG")
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Printf("Failed to load config from %s: %v, using defaults", configPath, err)
			return config.LoadFromEnv()
		}
		return cfg
	}
	return config.LoadFromEnv()
}
