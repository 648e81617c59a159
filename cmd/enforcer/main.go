// Command enforcer runs the policy enforcement gateway: per-tenant Rego
// engines loaded from the bundles directory, hot reload on filesystem
// change, the policy query and decision stream API, the bundle
// management API, and (when an upstream is configured) the HTTP
// enforcement adapter in front of it.
package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
	"github.com/Mindburn-Labs/edgepolicy/pkg/auditlog"
	"github.com/Mindburn-Labs/edgepolicy/pkg/bundleapi"
	"github.com/Mindburn-Labs/edgepolicy/pkg/bundlestore"
	"github.com/Mindburn-Labs/edgepolicy/pkg/bundlewatcher"
	"github.com/Mindburn-Labs/edgepolicy/pkg/config"
	"github.com/Mindburn-Labs/edgepolicy/pkg/decisionbus"
	"github.com/Mindburn-Labs/edgepolicy/pkg/httpenforcer"
	"github.com/Mindburn-Labs/edgepolicy/pkg/logging"
	"github.com/Mindburn-Labs/edgepolicy/pkg/observability"
	"github.com/Mindburn-Labs/edgepolicy/pkg/policyapi"
	"github.com/Mindburn-Labs/edgepolicy/pkg/quotatracker"
	"github.com/Mindburn-Labs/edgepolicy/pkg/requestid"
	"github.com/Mindburn-Labs/edgepolicy/pkg/tenantregistry"
)

const shutdownGrace = 10 * time.Second

// decisionBus is the publish/subscribe surface the policy API and the
// gateway share, satisfied by both the in-process bus and the Redis relay.
type decisionBus interface {
	Subscribe(filter decisionbus.Filter) *decisionbus.Subscription
	Publish(ev abac.Event)
}

// instrumentedReloader counts reload outcomes on the way through to the
// registry.
type instrumentedReloader struct {
	registry *tenantregistry.Registry
	obs      *observability.Provider
}

func (ir instrumentedReloader) ReloadTenant(ctx context.Context, tenantID string) error {
	err := ir.registry.ReloadTenant(ctx, tenantID)
	ir.obs.RecordReload(ctx, tenantID, err)
	return err
}

func main() {
	log := logging.New("enforcer")
	cfg := config.LoadEnforcer()

	if err := os.MkdirAll(cfg.BundlesDir, 0o755); err != nil {
		log.Error("cannot create bundles dir %s: %v", cfg.BundlesDir, err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error("cannot create data dir %s: %v", cfg.DataDir, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs, err := observability.Init(ctx, observability.FromEnv("edgepolicy-enforcer"))
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

	registry := tenantregistry.New(cfg.BundlesDir)
	if err := registry.LoadAllTenants(ctx); err != nil {
		log.Error("cannot enumerate bundles dir: %v", err)
		os.Exit(1)
	}
	log.Info("loaded %d tenant(s) from %s", len(registry.ListTenants()), cfg.BundlesDir)

	bus := decisionbus.New(cfg.DecisionBusBacklog)

	// With REDIS_ADDR set, decision events fan out across enforcer
	// processes through Redis Pub/Sub; publishers go through the relay so
	// local and remote subscribers see the same stream.
	var events decisionBus = bus
	if cfg.RedisAddr != "" {
		relay := decisionbus.NewRedisRelay(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, bus)
		if err := relay.Start(ctx); err != nil {
			log.Error("cannot attach redis relay: %v", err)
			os.Exit(1)
		}
		defer relay.Stop()
		events = relay
		log.Info("redis fan-out enabled: addr=%s db=%d", cfg.RedisAddr, cfg.RedisDB)
	}

	// Telemetry consumes the decision stream like any other subscriber so
	// it can never slow enforcement.
	telemetrySub := bus.Subscribe(decisionbus.Filter{})
	go func() {
		for msg := range telemetrySub.Messages() {
			if msg.Event == nil {
				continue
			}
			obs.RecordDecision(ctx, msg.Event.TenantID, msg.Event.Decision.Allow,
				time.Duration(msg.Event.Metrics.EvalDurationMicros)*time.Microsecond)
		}
	}()
	defer telemetrySub.Close()

	if cfg.EnableHotReload {
		watcher, err := bundlewatcher.New(cfg.BundlesDir, instrumentedReloader{registry, obs}, cfg.ReloadInterval)
		if err != nil {
			log.Error("cannot watch bundles dir: %v", err)
			os.Exit(1)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
		log.Info("hot reload enabled: debounce=%s", cfg.ReloadInterval)
	}

	store, err := bundlestore.Open(filepath.Join(cfg.DataDir, "bundles.db"))
	if err != nil {
		log.Error("cannot open bundle store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	var quota *quotatracker.Client
	if cfg.QuotaServiceURL != "" {
		quota = quotatracker.NewClient(cfg.QuotaServiceURL)
	}
	var audit *auditlog.Client
	if cfg.AuditServiceURL != "" {
		audit = auditlog.NewClient(cfg.AuditServiceURL)
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/v1/*", policyapi.New(registry, events).Router())
	bundles := bundleapi.New(store, cfg.BundlesDir).Router()
	r.Handle("/api/bundles", bundles)
	r.Handle("/api/bundles/*", bundles)

	if cfg.UpstreamURL != "" {
		upstream, err := url.Parse(cfg.UpstreamURL)
		if err != nil {
			log.Error("invalid UPSTREAM_URL %q: %v", cfg.UpstreamURL, err)
			os.Exit(1)
		}
		enfCfg := httpenforcer.Config{
			Identity: httpenforcer.IdentityConfig{
				MTLSEnabled:           cfg.MTLSEnabled,
				JWTEnabled:            cfg.JWTSigningKey != "",
				JWTAlgorithm:          cfg.JWTAlgorithm,
				JWTSigningKey:         cfg.JWTSigningKey,
				JWTIssuer:             cfg.JWTIssuer,
				JWTAudience:           cfg.JWTAudience,
				AllowTenantIDFallback: !cfg.MTLSEnabled && cfg.JWTSigningKey == "",
			},
			Upstream:          upstream,
			ForwardAuthHeader: cfg.ForwardAuthHeader,
			MaxBodyBytes:      cfg.MaxBodyBytes,
			PipelineTimeout:   cfg.PipelineTimeout,
		}
		var quotaAcct httpenforcer.QuotaAccountant
		if quota != nil {
			quotaAcct = quota
		}
		var auditSink httpenforcer.AuditDispatcher
		if audit != nil {
			auditSink = audit
		}
		enforcer := httpenforcer.New(enfCfg, registry, quotaAcct, auditSink, events)
		r.Handle("/*", enforcer)
		log.Info("gateway enabled: upstream=%s", upstream)
	}

	srv := &http.Server{Addr: cfg.Host + ":" + cfg.Port, Handler: r}

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
