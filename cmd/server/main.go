// Command server runs the Prism search engine: the HTTP API, the optional
// Kafka ingest worker, and the Prometheus metrics endpoint, over a single
// persistent key-value store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prismsearch/prism/internal/collection"
	"github.com/prismsearch/prism/internal/httpd"
	"github.com/prismsearch/prism/internal/ingest"
	"github.com/prismsearch/prism/internal/querycache"
	"github.com/prismsearch/prism/internal/store"
	"github.com/prismsearch/prism/pkg/config"
	"github.com/prismsearch/prism/pkg/health"
	"github.com/prismsearch/prism/pkg/logger"
	"github.com/prismsearch/prism/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)
	log := logger.Component("server")

	st, err := store.Open(cfg.Store, cfg.Postgres)
	if err != nil {
		log.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	manager := collection.NewManager(st, cfg.Search.NumShards)
	if err := manager.Load(); err != nil {
		log.Error("failed to load collections", "error", err)
		os.Exit(1)
	}
	log.Info("collections loaded", "collections", manager.Names())

	m := metrics.New()
	if cfg.Metrics.Enabled {
		metrics.Serve(cfg.Metrics.Port)
		log.Info("metrics server listening", "port", cfg.Metrics.Port)
	}

	checker := health.NewChecker(func() health.EngineStats {
		stats := health.EngineStats{}
		for _, name := range manager.Names() {
			coll, err := manager.Get(name)
			if err != nil {
				continue
			}
			stats.Collections++
			stats.Documents += coll.NumDocuments()
		}
		return stats
	})
	checker.Probe("store", true, func(ctx context.Context) error {
		_, _, err := st.Get([]byte(".health"))
		return err
	})

	var cache *querycache.Cache
	if cfg.Redis.Enabled {
		cache, err = querycache.Open(cfg.Redis, m)
		if err != nil {
			log.Error("failed to connect to redis, continuing without cache", "error", err)
		} else {
			defer cache.Close()
			checker.Probe("redis", false, cache.Ping)
			log.Info("search cache enabled", "addr", cfg.Redis.Addr)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Kafka.Enabled {
		worker := ingest.NewWorker(cfg.Kafka, manager, m)
		defer worker.Close()
		go func() {
			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("ingest worker stopped", "error", err)
			}
		}()
		log.Info("ingest worker started", "topic", cfg.Kafka.Topics.DocumentIngest)
	}

	api := httpd.New(*cfg, manager, cache, m, checker)
	srv := api.HTTPServer()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("server stopped")
}
