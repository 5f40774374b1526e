// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command contextd starts the code context engine API server.
//
// The daemon holds a graph-indexed model of one codebase, keeps it
// current through incremental update batches, and serves token-budgeted
// context selections over HTTP.
//
// Usage:
//
//	go run ./cmd/contextd -root /path/to/project
//	go run ./cmd/contextd -root . -addr :9000 -debug
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8950/v1/context/health
//
//	# Budgeted context for a question
//	curl -X POST http://localhost:8950/v1/context/query \
//	  -H "Content-Type: application/json" \
//	  -d '{"question": "how are sessions invalidated?", "budget": 8000}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/AleutianContext/services/contextd"
	"github.com/AleutianAI/AleutianContext/services/contextd/config"
	"github.com/AleutianAI/AleutianContext/services/contextd/embed"
	"github.com/AleutianAI/AleutianContext/services/contextd/graph"
	"github.com/AleutianAI/AleutianContext/services/contextd/llm"
	"github.com/AleutianAI/AleutianContext/services/contextd/telemetry"
	"github.com/AleutianAI/AleutianContext/services/contextd/vector"
)

const serviceName = "contextd"

func main() {
	root := flag.String("root", ".", "Project root to index")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if err := run(*root, *addr, *debug, logger); err != nil {
		logger.Error("contextd failed", "error", err)
		os.Exit(1)
	}
}

func run(root, addr string, debug bool, logger *slog.Logger) error {
	projectRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	cfg, err := config.Load(projectRoot)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.ListenAddr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Init(ctx, serviceName, "1.0.0")
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	db, err := badger.Open(badger.DefaultOptions(cfg.Snapshot.Dir).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing snapshot store", "error", err)
		}
	}()

	vectors, err := vector.New(vector.Config{
		Host:   cfg.Vector.Host,
		Scheme: cfg.Vector.Scheme,
		Logger: logger.With("component", "vector"),
	})
	if err != nil {
		return fmt.Errorf("create vector client: %w", err)
	}
	defer vectors.Close()
	if err := vectors.EnsureSchema(ctx); err != nil {
		// Degraded start: index/update will fail until Weaviate is up,
		// but health and snapshots still work.
		logger.Warn("vector schema bootstrap failed, continuing degraded", "error", err)
	}

	engine := contextd.NewEngine(cfg, projectRoot, contextd.EngineDeps{
		Vectors:   vectors,
		Embedder:  embed.New(cfg.Embed.BaseURL, cfg.Embed.Model, logger.With("component", "embed")),
		Chat:      llm.New(llm.Config{Logger: logger.With("component", "llm")}),
		Snapshots: graph.NewSnapshotManager(db, logger.With("component", "snapshots")),
		Metrics:   tel.Metrics,
		Logger:    logger,
	})
	if err := engine.Restore(ctx, projectRoot); err != nil {
		logger.Warn("snapshot restore failed, starting empty", "error", err)
	}

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	if debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	contextd.RegisterRoutes(v1, contextd.NewHandlers(engine, logger))
	router.GET("/metrics", gin.WrapH(tel.MetricsHandler))

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("contextd listening",
			"addr", cfg.Server.ListenAddr, "root", projectRoot, "version", engine.Version())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
