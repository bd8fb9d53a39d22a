// Command apexd runs the APEX single-host coordination runtime: the
// Router, Atomic Switch Engine, Coordinator FSM, Budget Guard, and
// Switching Controller wired together behind an admin HTTP surface
// (health, metrics, and a topology-change WebSocket feed).
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/apex-run/apex/internal/budget"
	"github.com/apex-run/apex/internal/circuitbreaker"
	"github.com/apex-run/apex/internal/collaborator"
	"github.com/apex-run/apex/internal/config"
	"github.com/apex-run/apex/internal/controller"
	"github.com/apex-run/apex/internal/coordinator"
	"github.com/apex-run/apex/internal/db"
	"github.com/apex-run/apex/internal/dedup"
	"github.com/apex-run/apex/internal/degradation"
	"github.com/apex-run/apex/internal/health"
	"github.com/apex-run/apex/internal/httpapi"
	"github.com/apex-run/apex/internal/ratecontrol"
	"github.com/apex-run/apex/internal/router"
	"github.com/apex-run/apex/internal/switchengine"
	"github.com/apex-run/apex/internal/topology"
	"github.com/apex-run/apex/internal/tracing"
)

func main() {
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	circuitbreaker.StartMetricsCollection()

	cfg, err := config.Load(os.Getenv("APEX_CONFIG"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	if err := tracing.Initialize(tracing.Config{Enabled: false, ServiceName: "apex"}, logger); err != nil {
		logger.Warn("tracing init failed", zap.Error(err))
	}

	// ------------------------------------------------------------------
	// Health manager and admin HTTP mux are built first so the health
	// routes are registered before any domain component; the admin server
	// itself starts listening only after everything below is wired.
	// ------------------------------------------------------------------
	hm := health.NewManager(logger)
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)

	go func() {
		_ = hm.Start(ctx)
	}()

	var dbClient *db.Client
	var intentLog switchengine.IntentLog
	if cfg.Storage.Enabled {
		dbClient, err = db.NewClient(&db.Config{Path: cfg.Storage.Path}, logger)
		if err != nil {
			logger.Warn("intent log disabled: failed to open sqlite store", zap.Error(err))
		} else {
			hm.RegisterChecker(health.NewDatabaseHealthChecker(dbClient.GetDB(), dbClient.Wrapper(), logger))
			intentLog = db.NewIntentLogAdapter(dbClient)
		}
	}

	dedupStore, err := dedup.New(&dedup.Config{})
	if err != nil {
		logger.Fatal("failed to construct dedup store", zap.Error(err))
	}
	defer dedupStore.Close()

	routerCfg := router.Config{
		QueueCapacityPerReceiver: cfg.Runtime.QueueCapacityPerReceiver,
		MessageTTL:               time.Duration(cfg.Runtime.MessageTTLSeconds) * time.Second,
		MaxAttempts:              cfg.Runtime.MaxAttempts,
		FlatFanoutLimit:          cfg.Runtime.FlatFanoutLimit,
	}
	r := router.New(routerCfg, dedupStore, logger)

	engineCfg := switchengine.Config{
		PrepareDeadline: time.Duration(cfg.Runtime.PrepareDeadlineMs) * time.Millisecond,
		QuiesceDeadline: time.Duration(cfg.Runtime.QuiesceDeadlineMs) * time.Millisecond,
	}
	engine := switchengine.New(engineCfg, r, topology.Star, logger, intentLog)

	probe := degradation.NewProbe(hm, degradation.DefaultProbeDeadline, logger)
	coord := coordinator.New(coordinator.Config{
		DwellMinSteps: cfg.Runtime.DwellMinSteps,
		CooldownSteps: cfg.Runtime.CooldownSteps,
	}, engine, logger, probe.Evaluate)

	guard := budget.New(budget.Config{
		SafetyFactor:   cfg.Budgets.SafetyFactor,
		ReservationTTL: time.Duration(cfg.Budgets.ReservationTTLSec) * time.Second,
		PerScopeRPS:    cfg.Budgets.PerScopeRPS,
		PerScopeBurst:  cfg.Budgets.PerScopeBurst,
	}, logger)
	guard.SetBudget(budget.ScopeDaily, cfg.Budgets.DailyTokens, 0)

	sweeper, err := budget.NewSweeper(guard, logger)
	if err != nil {
		logger.Fatal("failed to construct budget sweeper", zap.Error(err))
	}
	sweeper.Start()
	defer sweeper.Stop()

	ctl := controller.New(controller.Config{
		DwellMinSteps: cfg.Runtime.DwellMinSteps,
		FeatureWindow: cfg.Bandit.FeatureWindow,
		Bandit: controller.BanditConfig{
			Lambda:           cfg.Bandit.RidgeLambda,
			EpsilonStart:     cfg.Bandit.EpsilonStart,
			EpsilonEnd:       cfg.Bandit.EpsilonEnd,
			EpsilonScheduleN: cfg.Bandit.EpsilonScheduleN,
		},
	}, coord, guard, budget.ScopeEpisode("bootstrap"), logger)
	_ = ctl // driven by the embedding caller's decision loop, not this process

	if cfg.Collaborators.LLM.Enabled {
		llm := collaborator.NewOpenAIClient(
			cfg.Collaborators.LLM.APIKey,
			cfg.Collaborators.LLM.BaseURL,
			cfg.Collaborators.LLM.Model,
			cfg.Collaborators.LLM.Tier,
			logger,
		)
		_ = llm
	}
	if cfg.Collaborators.Tool.Enabled {
		toolAdapter, err := collaborator.NewFSToolAdapter(cfg.Collaborators.Tool.Root)
		if err != nil {
			logger.Warn("tool adapter disabled", zap.Error(err))
		} else {
			_ = toolAdapter
		}
	}
	for _, gc := range cfg.Collaborators.GRPCHealthChecks {
		hm.RegisterChecker(health.NewGRPCCollaboratorHealthChecker(gc.Name, gc.Target, gc.Service, gc.Critical))
	}

	var rateLimitWatcher *config.ConfigManager
	if cfg.Collaborators.RateLimits.Enabled {
		rateLimitWatcher, err = config.NewConfigManager(cfg.Collaborators.RateLimits.ConfigDir, logger)
		if err != nil {
			logger.Warn("rate limit hot-reload disabled: failed to construct config manager", zap.Error(err))
		} else {
			rateLimitWatcher.RegisterHandler("models.yaml", func(config.ChangeEvent) error {
				ratecontrol.Reload()
				logger.Info("reloaded collaborator rate limits from models.yaml")
				return nil
			})
			if err := rateLimitWatcher.Start(ctx); err != nil {
				logger.Warn("rate limit hot-reload disabled: failed to start watcher", zap.Error(err))
				rateLimitWatcher = nil
			}
		}
	}

	httpapi.NewTopologyStreamHandler(coord, logger).RegisterRoutes(adminMux)

	if dbClient != nil {
		adminMux.HandleFunc("/admin/intent-log", func(w http.ResponseWriter, r *http.Request) {
			entries, err := dbClient.RecentIntentLogEntries(r.Context(), 100)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(entries)
		})
	}

	if cfg.Observability.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		go func() {
			addr := ":" + strconv.Itoa(cfg.Observability.Metrics.Port)
			logger.Info("metrics server listening", zap.String("addr", addr))
			srv := &http.Server{Addr: addr, Handler: metricsMux}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	adminServer := &http.Server{
		Addr:         cfg.Server.AdminAddr,
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("admin HTTP server listening", zap.String("addr", cfg.Server.AdminAddr))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = adminServer.Shutdown(shutdownCtx)
	if rateLimitWatcher != nil {
		_ = rateLimitWatcher.Stop()
	}
	_ = hm.Stop()
	if dbClient != nil {
		_ = dbClient.Close()
	}
}
