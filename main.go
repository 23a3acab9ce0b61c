package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Bluemott/contentsync/internal/api"
	"github.com/Bluemott/contentsync/internal/cache"
	"github.com/Bluemott/contentsync/internal/config"
	"github.com/Bluemott/contentsync/internal/ingest"
	"github.com/Bluemott/contentsync/internal/ingest/store"
	"github.com/Bluemott/contentsync/internal/logger"
	"github.com/Bluemott/contentsync/internal/query"
	"github.com/Bluemott/contentsync/internal/server"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(&logger.Config{
		Level: logger.LogLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.ContextWithLogger(ctx, log)

	// adapters
	pg, err := store.New(ctx, cfg.BuildDSN())
	if err != nil {
		log.Error("postgres init", "error", err)
		os.Exit(1)
	}
	results, err := cache.New(cfg.CacheTTL)
	if err != nil {
		log.Error("result cache init", "error", err)
		os.Exit(1)
	}
	defer results.Close()

	var exporter ingest.ExporterPort
	if cfg.SourceURL != "" {
		exporter = ingest.NewHTTPExporter(cfg.SourceURL, cfg.SourceTimeout)
	}

	// services
	ing := ingest.New(pg, results, exporter)
	qry := query.New(pg, results, query.Config{
		MaxPageSize:     cfg.MaxPageSize,
		DefaultPageSize: cfg.DefaultPageSize,
	})

	// api facade
	app := api.New(ing, qry, pg, cfg.RetryAttempts, cfg.RetryBase)

	// optional one-shot ingest at startup via the facade, which owns
	// the retry policy
	if cfg.IngestOnStart && exporter != nil {
		ingCtx, cancel := context.WithTimeout(ctx, cfg.IngestTimeout)
		if res, err := app.IngestFromSource(ingCtx); err != nil {
			log.Error("startup ingest failed", "error", err)
		} else {
			log.Info("startup ingest complete",
				"posts", res.Summary.Posts,
				"categories", res.Summary.Categories,
				"tags", res.Summary.Tags,
				"record_errors", len(res.Errors))
		}
		cancel()
	}

	srv := server.New(app, server.Config{
		RequestTimeout: cfg.RequestTimeout,
		IngestTimeout:  cfg.IngestTimeout,
	}, log)
	log.Info("listening", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		log.Error("server", "error", err)
		os.Exit(1)
	}
}
