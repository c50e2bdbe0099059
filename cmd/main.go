package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reelforge/reelforge-backend/internal/content/dedup"
	"github.com/reelforge/reelforge-backend/internal/data/db"
	"github.com/reelforge/reelforge-backend/internal/data/repos"
	"github.com/reelforge/reelforge-backend/internal/http/handlers"
	"github.com/reelforge/reelforge-backend/internal/http/middleware"
	"github.com/reelforge/reelforge-backend/internal/jobs/dispatch"
	"github.com/reelforge/reelforge-backend/internal/jobs/orchestrator"
	"github.com/reelforge/reelforge-backend/internal/jobs/runtime"
	"github.com/reelforge/reelforge-backend/internal/jobs/worker"
	"github.com/reelforge/reelforge-backend/internal/observability"
	"github.com/reelforge/reelforge-backend/internal/platform/config"
	"github.com/reelforge/reelforge-backend/internal/platform/envutil"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
	"github.com/reelforge/reelforge-backend/internal/realtime"
	"github.com/reelforge/reelforge-backend/internal/realtime/bus"
	"github.com/reelforge/reelforge-backend/internal/server"
	"github.com/reelforge/reelforge-backend/internal/services"
	"github.com/reelforge/reelforge-backend/internal/stages"
	"github.com/reelforge/reelforge-backend/internal/stages/remote"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	cfg, err := config.Load()
	if err != nil {
		log.Error("Config load failed", "error", err)
		os.Exit(1)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn("JWT_SECRET_KEY not set, using insecure default")
		cfg.Auth.JWTSecret = "defaultsecret"
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	otelShutdown := observability.InitOTel(rootCtx, log, observability.OtelConfig{
		ServiceName: "reelforge-backend",
		Environment: cfg.Env,
		Version:     envutil.String("APP_VERSION", "dev"),
	})

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	rset := repos.NewSet(thePG, log)

	// Realtime
	log.Info("Setting up SSE hub...")
	hub := realtime.NewHub(log)
	var eventBus bus.Bus
	if b, err := bus.NewRedisBus(log); err != nil {
		log.Warn("Redis event bus unavailable, running single-instance", "error", err)
	} else {
		eventBus = b
		if err := eventBus.StartForwarder(rootCtx, hub.Broadcast); err != nil {
			log.Warn("Redis forwarder failed, running single-instance", "error", err)
			_ = eventBus.Close()
			eventBus = nil
		}
	}

	// Pipeline core
	log.Info("Setting up pipeline...")
	notifier := services.NewJobNotifier(hub, eventBus, log)
	dispatcher := dispatch.NewDispatcher(rset.Tasks, cfg.Dispatch, log)
	orch := orchestrator.New(rset, dispatcher, cfg, notifier, log)

	// Stage handlers
	registry := runtime.NewRegistry()
	deduper := dedup.NewDeduper(rset.Items, log)
	if clients, err := remote.NewPlatformClients(log, cfg.Discovery.Platforms); err != nil {
		log.Warn("Discovery disabled", "error", err)
	} else {
		registry.Register(stages.NewDiscoveryHandler(clients, deduper, log))
	}
	if analyzer, err := remote.NewAnalyzer(log); err != nil {
		log.Warn("Analysis disabled", "error", err)
	} else {
		registry.Register(stages.NewAnalysisHandler(analyzer, rset.Items, rset.Analyses, cfg.Selection, log))
	}
	if compositor, err := remote.NewCompositor(log); err != nil {
		log.Warn("Render disabled", "error", err)
	} else {
		registry.Register(stages.NewRenderHandler(compositor, rset.Items, rset.Outputs, log))
	}

	// Worker
	taskWorker := worker.NewWorker(thePG, log, rset, registry, dispatcher, orch, cfg.Worker)
	taskWorker.Start(rootCtx)

	// Services
	jobService := services.NewJobService(rset, orch, notifier, log)

	// Handlers
	log.Info("Setting up handlers...")
	jobHandler := handlers.NewJobHandler(jobService, log)
	eventsHandler := handlers.NewEventsHandler(hub, log)
	authMiddleware := middleware.NewAuthMiddleware(log, cfg.Auth.JWTSecret)

	// Router
	router := server.NewRouter(server.RouterConfig{
		AllowOrigins:   cfg.HTTP.AllowOrigins,
		AuthMiddleware: authMiddleware,
		JobHandler:     jobHandler,
		EventsHandler:  eventsHandler,
	})

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}
	go func() {
		log.Info("Server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown failed", "error", err)
	}
	if eventBus != nil {
		_ = eventBus.Close()
	}
	if otelShutdown != nil {
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("Tracing shutdown failed", "error", err)
		}
	}
}
