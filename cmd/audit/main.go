// Command audit runs the audit log signer and deferred upload service
// (C10): per-tenant SQLite-backed stores, HMAC signing on ingest, and a
// background task that batches unuploaded records to a configured
// endpoint with exponential backoff.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/edgepolicy/pkg/auditapi"
	"github.com/Mindburn-Labs/edgepolicy/pkg/auditlog"
	"github.com/Mindburn-Labs/edgepolicy/pkg/config"
	"github.com/Mindburn-Labs/edgepolicy/pkg/logging"
	"github.com/Mindburn-Labs/edgepolicy/pkg/observability"
)

const shutdownGrace = 10 * time.Second

func main() {
	log := logging.New("audit")
	cfg := config.LoadAudit()

	if cfg.HMACSecret == "" {
		log.Error("AUDIT_HMAC_SECRET is required")
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error("cannot create data dir %s: %v", cfg.DataDir, err)
		os.Exit(1)
	}

	store, err := auditlog.NewStore(cfg.DataDir)
	if err != nil {
		log.Error("cannot open audit store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	signer, err := auditlog.NewSigner(cfg.HMACSecret)
	if err != nil {
		log.Error("cannot construct signer: %v", err)
		os.Exit(1)
	}
	pipeline := auditlog.NewPipeline(store, signer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs, err := observability.Init(ctx, observability.FromEnv("edgepolicy-audit"))
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

	if cfg.MaxLogAgeDays > 0 {
		maxAge := time.Duration(cfg.MaxLogAgeDays) * 24 * time.Hour
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n, err := store.PurgeOlderThan(ctx, time.Now().Add(-maxAge))
					if err != nil {
						log.Warn("retention purge: %v", err)
						continue
					}
					if n > 0 {
						log.Info("retention purge removed %d uploaded record(s)", n)
					}
				}
			}
		}()
	}

	if cfg.EnableDeferredUpload && cfg.UploadEndpoint != "" {
		uploader := auditlog.NewUploader(store, cfg.UploadEndpoint, cfg.UploadBatchSize)
		uploader.Instrument(obs)
		uploader.Run(ctx, cfg.UploadInterval)
		log.Info("deferred upload enabled: endpoint=%s interval=%s batch=%d", cfg.UploadEndpoint, cfg.UploadInterval, cfg.UploadBatchSize)
	} else {
		log.Info("deferred upload disabled; logs accumulate until enabled")
	}

	api := auditapi.New(store, pipeline)
	srv := &http.Server{Addr: cfg.Host + ":" + cfg.Port, Handler: api.Router()}

	go func() {
		log.Info("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("serve: %v", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown: %v", err)
	}
}
