// Command quota runs the quota tracker service (C9): in-memory per-tenant
// counters with day/month rollover, backed by a durable SQLite store that
// is flushed on an interval and rehydrated on startup.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/edgepolicy/pkg/config"
	"github.com/Mindburn-Labs/edgepolicy/pkg/logging"
	"github.com/Mindburn-Labs/edgepolicy/pkg/observability"
	"github.com/Mindburn-Labs/edgepolicy/pkg/quotaapi"
	"github.com/Mindburn-Labs/edgepolicy/pkg/quotatracker"
)

const shutdownGrace = 10 * time.Second

func main() {
	log := logging.New("quota")
	cfg := config.LoadQuota()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error("cannot create data dir %s: %v", cfg.DataDir, err)
		os.Exit(1)
	}

	store, err := quotatracker.Open(filepath.Join(cfg.DataDir, "quota.db"))
	if err != nil {
		log.Error("cannot open quota store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	defaultBandwidthBytes := int64(cfg.DefaultBandwidthGB * (1 << 30))
	tracker := quotatracker.New(store, cfg.DefaultMessageLimit, defaultBandwidthBytes, cfg.EnableAutoReset)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs, err := observability.Init(ctx, observability.FromEnv("edgepolicy-quota"))
	if err != nil {
		log.Error("cannot init telemetry: %v", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown: %v", err)
		}
	}()
	tracker.Instrument(obs)

	if err := tracker.Rehydrate(ctx); err != nil {
		log.Warn("rehydrate: %v", err)
	}
	tracker.StartFlushLoop(ctx, cfg.PersistenceInterval)

	api := quotaapi.New(tracker)
	srv := &http.Server{Addr: cfg.Host + ":" + cfg.Port, Handler: api.Router()}

	go func() {
		log.Info("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("serve: %v", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(log, srv)
}

func waitForShutdown(log *logging.Logger, srv *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown: %v", err)
	}
}
