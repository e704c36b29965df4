package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/classpulse/classpulse/internal/api"
	"github.com/classpulse/classpulse/internal/catalog"
	"github.com/classpulse/classpulse/internal/circuitbreaker"
	"github.com/classpulse/classpulse/internal/config"
	"github.com/classpulse/classpulse/internal/delivery"
	"github.com/classpulse/classpulse/internal/dispatch"
	"github.com/classpulse/classpulse/internal/metrics"
	"github.com/classpulse/classpulse/internal/observ"
	"github.com/classpulse/classpulse/internal/reconcile"
	"github.com/classpulse/classpulse/internal/redis"
	"github.com/classpulse/classpulse/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting classpulse reminderd",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := store.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := store.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repository and seed the default policy catalog
	repo := store.NewRepository(database, logger)
	if err := repo.SeedDefaultPolicies(ctx); err != nil {
		return fmt.Errorf("failed to seed reminder policies: %w", err)
	}

	// Catalog reads (enrollments, assessments, submissions, contacts)
	catalogStore := catalog.NewPostgresStore(database.Pool(), logger)
	directory := catalog.NewPostgresDirectory(database.Pool(), logger)

	// Initialize Redis for dispatch claims
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	var claims dispatch.Claims
	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, dispatch claims disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		claims = redis.NewClaimService(redisClient, logger)
		defer redisClient.Close()
	}

	// Email sender behind a circuit breaker
	var sender delivery.Sender
	switch cfg.EmailProvider {
	case "ses":
		sesSender, err := delivery.NewSESSender(ctx, delivery.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create SES email sender: %w", err)
		}
		sender = sesSender
	default:
		sender = delivery.NewLogSender(logger)
	}
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(cfg.EmailProvider), logger)
	sender = circuitbreaker.NewProtectedSender(sender, breaker, logger)

	// Reconciler reacts to catalog events arriving over HTTP
	reconciler := reconcile.New(repo, catalogStore, logger, time.Now)

	// Dispatcher and the due-reminder sweep
	dispatcher := dispatch.New(repo, catalogStore, directory, claims, dispatch.Config{
		DeliveryMaxAttempts: cfg.DeliveryMaxAttempts,
	}, logger, time.Now)

	sweeper := dispatch.NewSweeper(repo, dispatcher, dispatch.SweepConfig{
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatchSize,
	}, logger, time.Now)

	// Delivery queue drain
	drainer := delivery.New(repo, sender, delivery.Config{
		PollInterval: cfg.DeliveryPollInterval,
		BatchSize:    cfg.DeliveryBatchSize,
	}, logger, time.Now)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go sweeper.Start(workerCtx)
	go drainer.Start(workerCtx)

	logger.Info("background workers started",
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Duration("delivery_poll_interval", cfg.DeliveryPollInterval),
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, repo, reconciler, dispatcher, catalogStore, time.Now)
	r.Route("/v1", func(r chi.Router) {
		// Catalog change events
		r.Post("/events/assessment-created", handler.AssessmentCreatedEvent)
		r.Post("/events/assessment-updated", handler.AssessmentUpdatedEvent)
		r.Post("/events/enrollment-created", handler.EnrollmentCreatedEvent)
		r.Post("/events/submission-recorded", handler.SubmissionRecordedEvent)

		// Reminder inspection and manual dispatch
		r.Get("/reminders/due", handler.ListDueReminders)
		r.Post("/reminders/{id}/process", handler.ProcessReminder)

		// Learner-facing surfaces
		r.Get("/learners/{id}/notifications", handler.ListLearnerNotifications)
		r.Patch("/notifications/{id}/read", handler.MarkNotificationRead)
		r.Patch("/notifications/{id}/dismiss", handler.MarkNotificationDismissed)
		r.Get("/learners/{id}/calendar", handler.LearnerCalendar)

		// Ops tooling
		r.Get("/audit", handler.ListAudit)
		r.Get("/delivery/failed", handler.ListFailedDeliveries)
		r.Get("/policies", handler.ListPolicies)
		r.Delete("/policies/{id}", handler.DeactivatePolicy)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
