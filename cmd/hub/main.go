/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hearthlabs/hearth/internal/auth"
	"github.com/hearthlabs/hearth/internal/cache"
	"github.com/hearthlabs/hearth/internal/catalog"
	"github.com/hearthlabs/hearth/internal/config"
	"github.com/hearthlabs/hearth/internal/db"
	"github.com/hearthlabs/hearth/internal/eventbus"
	"github.com/hearthlabs/hearth/internal/events"
	"github.com/hearthlabs/hearth/internal/hub"
	"github.com/hearthlabs/hearth/internal/logbuffer"
	"github.com/hearthlabs/hearth/internal/logging"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/server"
	"github.com/hearthlabs/hearth/internal/store"
	"github.com/hearthlabs/hearth/internal/telemetry"
	"github.com/hearthlabs/hearth/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Hub
)

var rootCmd = &cobra.Command{
	Use:   "hearth-hub",
	Short: "Hearth hub - home media control",
	Long:  "The Hearth hub maintains control connections to playback devices and exposes the HTTP API for driving them.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Hearth hub",
	Long:  "Start the HTTP API server and the device connection registry",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hub version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List and validate the configured devices",
	Long:  "Read the devices file, validate each entry the way the registry does, and print the result",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadHub()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	entries, err := config.LoadDevices(cfg.DevicesFile)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}

	for _, entry := range entries {
		status := "ok"
		if err := models.ValidateDeviceName(entry.Name); err != nil {
			status = err.Error()
		} else if err := models.ValidateDeviceAddress(entry.Address); err != nil {
			status = err.Error()
		}
		fmt.Printf("%-20s %-40s %s\n", entry.Name, entry.Address, status)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadHub()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuf := logbuffer.New(10000)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf, os.Stderr))

	logger.Info().Str("version", version.Version).Msg("Hearth hub starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracerProvider, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "hearth-hub",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	updates := version.NewChecker(logger)
	updates.Start(ctx)
	defer updates.Stop()

	database, err := db.Connect(cfg.DBBackend, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Error().Err(err).Msg("failed to close database")
		}
	}()

	history, err := store.NewHistory(database, logger)
	if err != nil {
		return fmt.Errorf("initialize history store: %w", err)
	}

	var searchCache *cache.Cache
	if cfg.RedisAddr != "" {
		searchCache, err = cache.New(cache.Config{
			RedisAddr:      cfg.RedisAddr,
			RedisPassword:  cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DisableOnError: true,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize search cache: %w", err)
		}
		defer searchCache.Close()
	}

	var cat *catalog.Client
	if cfg.CatalogURL != "" {
		cat, err = catalog.New(catalog.Config{
			BaseURL: cfg.CatalogURL,
			Token:   cfg.CatalogToken,
		}, searchCache, logger)
		if err != nil {
			return fmt.Errorf("initialize catalog client: %w", err)
		}
	}

	bus := events.NewBus()

	registry := hub.NewRegistry(hub.RegistryConfig{
		DevicesFile:  cfg.DevicesFile,
		Token:        cfg.ControlToken,
		ScanInterval: cfg.ScanInterval,
		LookupWait:   cfg.LookupWait,
	}, bus, cat, history, logger)
	go registry.Run(ctx)
	defer registry.Close()

	if cfg.NATSURL != "" {
		republisher, err := eventbus.New(eventbus.Config{URL: cfg.NATSURL}, bus, logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		go republisher.Run(ctx)
		defer func() {
			if err := republisher.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to drain nats connection")
			}
		}()
	}

	var verifier *auth.Verifier
	if cfg.ControlToken != "" || cfg.JWTSigningKey != "" {
		hash := ""
		if cfg.ControlToken != "" {
			hash, err = auth.HashToken(cfg.ControlToken)
			if err != nil {
				return fmt.Errorf("hash control token: %w", err)
			}
		}
		verifier = &auth.Verifier{TokenHash: hash, JWTSecret: []byte(cfg.JWTSigningKey)}
	}

	api := server.New(registry, cat, history, logBuf, verifier, updates, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:      api.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	metricsServer := &http.Server{Addr: cfg.MetricsBind, Handler: telemetry.Handler()}
	go func() {
		logger.Info().Str("addr", metricsServer.Addr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")
	cancel()

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := metricsServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown failed")
	}

	logger.Info().Msg("Hearth hub stopped")
	return nil
}
