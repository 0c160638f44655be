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

	"github.com/hearthlabs/hearth/internal/agent"
	"github.com/hearthlabs/hearth/internal/auth"
	"github.com/hearthlabs/hearth/internal/config"
	"github.com/hearthlabs/hearth/internal/engine"
	"github.com/hearthlabs/hearth/internal/events"
	"github.com/hearthlabs/hearth/internal/logging"
	"github.com/hearthlabs/hearth/internal/mediacache"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/player"
	"github.com/hearthlabs/hearth/internal/telemetry"
	"github.com/hearthlabs/hearth/internal/version"
)

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Environment).With().Str("device", cfg.DeviceName).Logger()
	logger.Info().Str("version", version.Version).Msg("Hearth agent starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	sources := map[models.MediaSourceKind]mediacache.Source{
		models.SourceHTTP: mediacache.NewHTTPSource(),
	}
	if cfg.S3AccessKeyID != "" {
		s3src, err := mediacache.NewS3Source(ctx, mediacache.S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build s3 media source")
		}
		sources[models.SourceS3] = s3src
	}

	var eng *engine.Engine

	store, err := mediacache.New(mediacache.Config{
		Dir:           cfg.CacheDir,
		BudgetBytes:   cfg.CacheBudgetBytes(),
		RecencyWeight: cfg.CacheEvictionRatio,
		MaxDownloads:  cfg.MaxDownloads,
		Sources:       sources,
		OnStatus: func(mediaID string, status models.CacheStatus, ratio float64) {
			eng.SetCachedRatio(mediaID, ratio)
			bus.Publish(events.EventCacheStatus, events.Payload{
				"id":     mediaID,
				"status": status,
				"ratio":  ratio,
			})
		},
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open media cache")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close media cache")
		}
	}()

	eng = engine.New(engine.Config{
		DeviceName: cfg.DeviceName,
		Player:     player.New(cfg.PlayerBin, logger),
		Cache:      store,
		Bus:        bus,
		Logger:     logger,
	})
	go eng.Run(ctx)

	verifier := &auth.Verifier{
		TokenHash: cfg.TokenHash,
		JWTSecret: []byte(cfg.JWTSigningKey),
	}

	srv := agent.NewServer(eng, bus, verifier, cfg.CommandTimeout, logger)
	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler:     srv.Routes(),
		ReadTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("control channel listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("control channel server error")
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
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")
	cancel()
	eng.Stop()

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := metricsServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown failed")
	}

	logger.Info().Msg("Hearth agent stopped")
}
