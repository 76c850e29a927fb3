// collabd serves live schedule collaboration sessions over websockets.
// Usage: collabd --config configs/collabd.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/schedule-sync/internal/config"
	"github.com/rickgao/schedule-sync/internal/database"
	"github.com/rickgao/schedule-sync/internal/metrics"
	"github.com/rickgao/schedule-sync/internal/server"
	"github.com/rickgao/schedule-sync/internal/session"
	"github.com/rickgao/schedule-sync/internal/version"
	"github.com/rickgao/schedule-sync/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/collabd.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With("instance", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting collabd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("collabd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("collabd stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	// Edit journal (optional)
	var (
		pool    *pgxpool.Pool
		journal *writer.EditJournal
		sink    session.EditSink
	)
	if cfg.Journal.Enabled {
		db := cfg.Journal.Database
		logger.Info("connecting to journal database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)
		var err error
		pool, err = database.Connect(ctx, db)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := writer.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		journal = writer.NewEditJournal(writer.JournalConfig{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger.With("component", "journal"))
		if err := journal.Start(ctx); err != nil {
			return err
		}
		sink = journal
	}

	registry := session.NewRegistry(session.Config{
		LockLease:       cfg.Session.LockLease,
		SweepInterval:   cfg.Session.SweepInterval,
		LivenessTimeout: cfg.Session.LivenessTimeout,
		IdleGrace:       cfg.Session.IdleGrace,
		InboxSize:       cfg.Session.InboxSize,
	}, session.Options{
		Sink:    sink,
		Metrics: m,
		Logger:  logger.With("component", "registry"),
	})
	if err := registry.Start(ctx); err != nil {
		return err
	}

	handler := server.NewHandler(server.Config{
		WriteTimeout: cfg.Server.WriteTimeout,
		PingInterval: cfg.Server.PingInterval,
		ReadLimit:    cfg.Server.ReadLimit,
		SendBuffer:   cfg.Server.SendBuffer,
		AuthSecret:   cfg.Server.AuthSecret,
		MaxClockSkew: cfg.Server.MaxClockSkew,
	}, registry, logger.With("component", "server"))
	if cfg.Server.AuthSecret == "" {
		logger.Warn("server.auth_secret is empty; identity headers are trusted unsigned")
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, handler)
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler(registry, pool, journal))

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			"addr", cfg.Server.ListenAddr,
			"ws_path", cfg.Server.Path,
			"metrics_path", cfg.Metrics.Path,
		)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Stop accepting new connections first; hijacked websockets are
		// closed by the registry.
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		if err := registry.Stop(shutdownCtx); err != nil {
			logger.Warn("registry shutdown", "error", err)
		}
		if journal != nil {
			journal.Stop(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}
