package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/insider-one/notification-engine/internal/channel"
	"github.com/insider-one/notification-engine/internal/config"
	"github.com/insider-one/notification-engine/internal/dispatcher"
	"github.com/insider-one/notification-engine/internal/domain"
	"github.com/insider-one/notification-engine/internal/handler"
	"github.com/insider-one/notification-engine/internal/middleware"
	"github.com/insider-one/notification-engine/internal/preference"
	"github.com/insider-one/notification-engine/internal/repository/postgres"
	"github.com/insider-one/notification-engine/internal/repository/redis"
	"github.com/insider-one/notification-engine/internal/retry"
	"github.com/insider-one/notification-engine/internal/service"
	"github.com/insider-one/notification-engine/internal/worker"
)

// @title Notification Engine API
// @version 1.0
// @description Multi-channel notification delivery engine API
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@insider.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

func main() {
	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.App.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting notification engine",
		"env", cfg.App.Env,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	// Repositories
	notificationRepo := postgres.NewNotificationRepository(db)
	preferenceRepo := postgres.NewPreferenceRepository(db)
	historyRepo := postgres.NewHistoryRepository(db)
	auditRepo := postgres.NewAuditRepository(db)
	inAppRepo := postgres.NewInAppRepository(db)
	rateLimiter := redis.NewRateLimiter(redisClient)

	// WebSocket hub, wired into the in-app adapter as a live pusher before
	// the registry is assembled.
	wsHub := handler.NewWebSocketHub(logger)
	go wsHub.Run()

	// Channel adapters and their circuit-breaker-wrapped runtimes.
	emailAdapter := channel.NewEmailAdapter(cfg.SMTP)
	webhookAdapter := channel.NewWebhookAdapter(channel.WebhookConfig{URL: cfg.Webhook.URL, Timeout: cfg.Webhook.Timeout})
	inAppCfg := channel.InAppConfig{
		MaxItemsPerUser:       cfg.InApp.MaxItemsPerUser,
		RetentionDays:         cfg.InApp.RetentionDays,
		MaxPreviewLength:      cfg.InApp.MaxPreviewLength,
		HighPriorityBadge:     cfg.InApp.HighPriorityBadge,
		CriticalPriorityPopup: cfg.InApp.CriticalPriorityPopup,
		EnableGrouping:        cfg.InApp.EnableGrouping,
	}
	inAppAdapter := channel.NewInAppAdapter(inAppRepo, wsHub, inAppCfg)
	loggingAdapter := channel.NewLoggingAdapter(logger)

	registry := channel.NewRegistry(logger)
	for _, adapter := range []domain.ChannelAdapter{emailAdapter, webhookAdapter, inAppAdapter, loggingAdapter} {
		registry.Register(ctx, adapter)
	}

	runtimes := map[domain.Channel]dispatcher.ChannelRuntime{
		domain.ChannelEmail: {
			Policy:  retry.ForChannel(string(domain.ChannelEmail)),
			Breaker: retry.NewBreaker(breakerConfig(cfg.Breaker, "email")),
			Timeout: cfg.SMTP.Timeout,
		},
		domain.ChannelWebhook: {
			Policy:  retry.ForChannel(string(domain.ChannelWebhook)),
			Breaker: retry.NewBreaker(breakerConfig(cfg.Breaker, "webhook")),
			Timeout: cfg.Webhook.Timeout,
		},
		domain.ChannelInApp: {
			Policy:  retry.ForChannel(string(domain.ChannelInApp)),
			Breaker: retry.NewBreaker(breakerConfig(cfg.Breaker, "in_app")),
			Timeout: cfg.Daemon.ProcessingTimeout,
		},
		domain.ChannelLogging: {
			Policy:  retry.ForChannel(string(domain.ChannelLogging)),
			Breaker: retry.NewBreaker(breakerConfig(cfg.Breaker, "logging")),
			Timeout: cfg.Daemon.ProcessingTimeout,
		},
	}

	metrics := handler.NewMetrics()

	evaluator := preference.NewEvaluator(rateLimiter)
	deadLetter := dispatcher.NewDeadLetterQueue(1000)
	escalations := dispatcher.NewEscalationQueue(dispatcher.DefaultEscalationCapacity)
	disp := dispatcher.New(registry, evaluator, preferenceRepo, runtimes, deadLetter, escalations, metrics, logger)

	// Services
	maskingEngine := service.NewMaskingEngine(domain.MaskingStrategy(cfg.Audit.MaskingStrategy))
	thresholds := service.SecurityThresholds{
		FailedAuthThreshold: cfg.Audit.FailedAuthThreshold,
		RateLimitThreshold:  cfg.Audit.RateLimitThreshold,
	}
	auditService := service.NewAuditService(auditRepo, maskingEngine, thresholds, logger)
	notificationService := service.NewNotificationService(notificationRepo, auditService, logger)
	preferenceService := service.NewPreferenceService(preferenceRepo, auditService)
	historyService := service.NewHistoryService(notificationRepo, historyRepo)

	statusBroadcast := func(n *domain.Notification) {
		wsHub.BroadcastStatus(n)
	}
	notificationService.SetStatusBroadcast(statusBroadcast)
	preferenceService.SetOnChange(historyService.InvalidateUser)

	// Delivery daemon
	daemonCfg := worker.Config{
		PollingInterval:           cfg.Daemon.PollingInterval,
		BatchSize:                 cfg.Daemon.BatchSize,
		CriticalPriorityBatchSize: cfg.Daemon.CriticalPriorityBatchSize,
		MaxConcurrentDeliveries:   cfg.Daemon.MaxConcurrentDeliveries,
		ProcessingTimeout:         cfg.Daemon.ProcessingTimeout,
		HealthCheckInterval:       cfg.Daemon.HealthCheckInterval,
		CleanupSchedule:           cfg.Daemon.CleanupSchedule,
		AuditRetentionDays:        cfg.Audit.RetentionDays,
		AutoMarkReadAfterDays:     cfg.Daemon.AutoMarkReadAfterDays,
		SecurityScanWindow:        cfg.Daemon.SecurityScanWindow,
		GracefulShutdownTimeout:   cfg.Daemon.GracefulShutdownTimeout,
		DispatchMode:              dispatcher.Mode(cfg.Daemon.DispatchMode),
	}
	daemon := worker.NewDaemon(daemonCfg, notificationRepo, historyRepo, auditRepo, inAppRepo, auditService, registry, disp, escalations, logger)
	daemon.SetOnHistoryInsert(historyService.InvalidateUser)

	// Handlers
	notificationHandler := handler.NewNotificationHandler(notificationService)
	historyHandler := handler.NewHistoryHandler(historyService)
	preferenceHandler := handler.NewPreferenceHandler(preferenceService)
	operationsHandler := handler.NewOperationsHandler(daemon, registry, deadLetter, escalations)

	healthHandler := handler.NewHealthHandler()
	healthHandler.AddChecker("postgres", db)
	healthHandler.AddChecker("redis", redisClient)

	metricsHandler := handler.NewMetricsHandler(metrics, registry, deadLetter, disp, daemon)
	wsHandler := handler.NewWebSocketHandler(wsHub)

	// Router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Correlation)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Compress(5))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)

	r.Handle("/metrics", metricsHandler.Handler())
	r.Get("/metrics/realtime", metricsHandler.RealtimeMetrics)

	r.Get("/ws", wsHandler.HandleWebSocket)

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/notifications", func(r chi.Router) {
		notificationHandler.RegisterRoutes(r)
		r.Route("/preferences", func(r chi.Router) {
			preferenceHandler.RegisterRoutes(r)
		})
		r.Route("/health", func(r chi.Router) {
			operationsHandler.RegisterRoutes(r)
		})
	})
	r.Route("/api/history", func(r chi.Router) {
		historyHandler.RegisterRoutes(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := daemon.Start(ctx); err != nil {
		logger.Error("failed to start delivery daemon", "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	registry.Stop(shutdownCtx)
	daemon.Stop(shutdownCtx)
	cancel()

	logger.Info("server stopped")
}

func breakerConfig(cfg config.BreakerConfig, name string) retry.BreakerConfig {
	return retry.BreakerConfig{
		Name:             name,
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.HalfOpenMaxCalls,
	}
}
