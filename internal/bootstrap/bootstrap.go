// Package bootstrap wires one family's full dependency graph - config
// store, rate limiter, request log, pipeline, HTTP routes, and the
// optional analytics/archival/admin side channels - the way
// cmd/gateway/main.go used to do it inline for the single combined
// service. Each of cmd/claude, cmd/codex, and cmd/legacy is now a thin
// shell calling Run for its own family and port.
package bootstrap

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"clproxy/internal/adminapi"
	"clproxy/internal/analytics"
	"clproxy/internal/archive"
	"clproxy/internal/configstore"
	"clproxy/internal/family"
	"clproxy/internal/httpapi"
	"clproxy/internal/model"
	"clproxy/internal/obslog"
	"clproxy/internal/pipeline"
	"clproxy/internal/procconfig"
	"clproxy/internal/queue"
	"clproxy/internal/ratelimit"
	"clproxy/internal/requestlog"
	"clproxy/internal/upstream"
)

const shutdownTimeout = 30 * time.Second

// Run starts one family's service on port and blocks until SIGINT/SIGTERM,
// then shuts everything down gracefully.
func Run(name family.Name, port int) {
	log := obslog.New(string(name))

	cfg, err := procconfig.Load()
	if err != nil {
		log.Error("loading process configuration failed", "error", err)
		os.Exit(1)
	}

	store, err := configstore.New(cfg.ConfigRoot)
	if err != nil {
		log.Error("opening config store failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	go func() {
		if err := store.Watch(); err != nil {
			log.Warn("config file watch failed, edits will require a restart to be picked up", "error", err)
		}
	}()

	system := &model.SystemSettings{}
	_ = store.Get("system", system)

	dataDir := filepath.Join(cfg.ConfigRoot, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Error("creating data directory failed", "error", err)
		os.Exit(1)
	}
	reqlog, err := requestlog.Open(dataDir, string(name), system.EffectiveLogLimit())
	if err != nil {
		log.Error("opening request log failed", "error", err)
		os.Exit(1)
	}
	defer reqlog.Close()

	limiter := buildLimiter(cfg, log)

	adapter := family.All()[name]

	onExcluded := func(ev upstream.FailureEvent) {
		log.Warn("upstream config excluded after repeated failures", "family", ev.Family, "config", ev.Config)
	}
	pipe := pipeline.New(name, adapter, store, limiter, reqlog, onExcluded)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var analyticsWorker *analytics.Worker
	if cfg.AnalyticsDSN != "" {
		analyticsStore, err := analytics.OpenDSN(cfg.AnalyticsDSN)
		if err != nil {
			log.Warn("opening analytics database failed, aggregates disabled", "error", err)
		} else {
			defer analyticsStore.Close()
			q := buildAnalyticsQueue(cfg, log)
			analyticsWorker = analytics.NewWorker(q, nil, analyticsStore, nil)
			analyticsWorker.Start(ctx)
			analytics.BridgeRequestLog(ctx, reqlog, q)
		}
	}

	var archiveWorker *archive.Worker
	if system.Archival.Bucket != "" {
		sink, err := archive.NewSink(ctx, system.Archival.Bucket, system.Archival.Region)
		if err != nil {
			log.Warn("opening archival sink failed, cold storage disabled", "error", err)
		} else {
			archiveWorker = archive.NewWorker(sink, reqlog)
			archiveWorker.Start(ctx)
		}
	}

	var adminSrv *adminapi.Server
	if system.Operator.PassphraseHash != "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Error("generating admin JWT secret failed", "error", err)
			os.Exit(1)
		}
		adminSrv = adminapi.NewServer(store, secret)
	}

	api := httpapi.New(name, adapter, pipe, store, reqlog, adminSrv)
	mux := http.NewServeMux()
	api.Register(mux)

	server := &http.Server{
		Addr:        fmt.Sprintf("127.0.0.1:%d", port),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// WriteTimeout is intentionally unbounded: a streaming upstream
		// response can legitimately keep the connection open for minutes.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	// A second signal while we're already draining means the operator wants
	// out now; skip the rest of the graceful sequence rather than make them
	// wait out shutdownTimeout or send a SIGKILL themselves.
	go func() {
		<-quit
		log.Warn("second interrupt received, forcing immediate exit")
		os.Exit(2)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", "error", err)
	}

	cancel()
	if analyticsWorker != nil {
		analyticsWorker.Stop()
	}
	if archiveWorker != nil {
		archiveWorker.Stop()
	}

	log.Info("exited")
}

func buildLimiter(cfg *procconfig.Config, log *obslog.Logger) ratelimit.Limiter {
	if cfg.RateLimitRedisAddr == "" {
		return ratelimit.NewMemory()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RateLimitRedisAddr})
	log.Info("using Redis-backed rate limiter", "addr", cfg.RateLimitRedisAddr)
	return ratelimit.NewRedis(client, "clproxy:ratelimit:")
}

func buildAnalyticsQueue(cfg *procconfig.Config, log *obslog.Logger) queue.Queue {
	qcfg := queue.DefaultConfig("analytics")
	if cfg.AnalyticsRedisAddr == "" {
		return queue.NewMemoryQueue(qcfg)
	}
	qcfg.UseRedis = true
	qcfg.RedisAddr = cfg.AnalyticsRedisAddr
	q, err := queue.NewRedisQueue(qcfg)
	if err != nil {
		log.Warn("connecting to Redis analytics queue failed, falling back to in-memory", "error", err)
		return queue.NewMemoryQueue(queue.DefaultConfig("analytics"))
	}
	log.Info("using Redis-backed analytics queue", "addr", cfg.AnalyticsRedisAddr)
	return q
}
