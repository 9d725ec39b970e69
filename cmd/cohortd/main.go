package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clincohort/cohort-explorer/internal/engine"
	"github.com/clincohort/cohort-explorer/internal/index"
	"github.com/clincohort/cohort-explorer/internal/server"
	"github.com/clincohort/cohort-explorer/internal/session"
	"github.com/clincohort/cohort-explorer/pkg/config"
	"github.com/clincohort/cohort-explorer/pkg/health"
	"github.com/clincohort/cohort-explorer/pkg/logger"
	"github.com/clincohort/cohort-explorer/pkg/metrics"
	"github.com/clincohort/cohort-explorer/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting cohort explorer", "port", cfg.Server.Port, "snapshot_dir", cfg.Snapshot.Dir)

	var m *metrics.Metrics
	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	loadStart := time.Now()
	store, err := index.LoadSnapshot(cfg.Snapshot.Dir)
	if err != nil {
		slog.Error("snapshot load failed", "error", err)
		os.Exit(1)
	}
	if m != nil {
		m.SnapshotLoadSeconds.Set(time.Since(loadStart).Seconds())
		m.IndexedConcepts.Set(float64(store.ConceptCount()))
		m.IndexedPatients.Set(float64(store.PatientCount()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache := session.NewCache(nil)
	go cache.RunSweeper(ctx, cfg.Session.SweepInterval, cfg.Session.Retention, func(removed int) {
		if m != nil {
			m.SessionsExpiredTotal.Add(float64(removed))
			m.SessionEntries.Set(float64(cache.Len()))
		}
	})

	eng := engine.New(store, cache, cfg.Search.MaxCandidates, m)

	checker := health.NewChecker()
	checker.Register("index_store", func(ctx context.Context) health.ComponentHealth {
		if store.PatientCount() > 0 && store.ConceptCount() > 0 {
			return health.ComponentHealth{
				Status:  health.StatusUp,
				Message: fmt.Sprintf("%d concepts, %d patients", store.ConceptCount(), store.PatientCount()),
			}
		}
		return health.ComponentHealth{Status: health.StatusDown, Message: "index empty"}
	})
	checker.Register("session_cache", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d sessions cached", cache.Len()),
		}
	})

	h := server.New(eng, cfg.Search.DefaultLimit)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if metricsShutdown != nil {
			if err := metricsShutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("cohort explorer listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("cohort explorer stopped")
}
