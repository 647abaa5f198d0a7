// Package main is the entry point for the API server.
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
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/config"
	"github.com/capitalize-ai/chatsync/internal/events"
	"github.com/capitalize-ai/chatsync/internal/handler"
	"github.com/capitalize-ai/chatsync/internal/middleware"
	natsclient "github.com/capitalize-ai/chatsync/internal/nats"
	"github.com/capitalize-ai/chatsync/internal/service"
	"github.com/capitalize-ai/chatsync/internal/session"
	"github.com/capitalize-ai/chatsync/internal/store"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting chatsync API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chatsync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Event fan-out: SSE subscribers always, JetStream when enabled
	hub := events.NewHub()
	publisher := events.Publisher(hub)
	var streamManager *natsclient.StreamManager
	if cfg.EventsStreamEnabled {
		streamManager = natsclient.NewStreamManager(natsClient, log)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		publisher = events.Multi(hub, streamManager)
	}

	// Synchronization engine
	conversationStore := store.New(
		store.WithHistoryLimit(cfg.HistoryLimit),
		store.WithDedupWindow(cfg.DedupWindow),
		store.WithPublisher(publisher),
		store.WithLogger(log.Named("store")),
	)

	factory := natsclient.NewBridgeFactory(natsClient.Conn(), natsclient.BridgeConfig{
		SubjectPrefix:  cfg.BridgeSubjectPrefix,
		RequestTimeout: cfg.BridgeRequestTimeout,
	}, log)

	manager := session.NewManager(factory, conversationStore, session.Config{
		ReconcileInterval: cfg.ReconcileInterval,
		FetchLimit:        cfg.ReconcileFetchLimit,
	},
		session.WithPublisher(publisher),
		session.WithLogger(log.Named("session")),
	)

	// Initialize services
	sessionSvc := service.NewSessionService(manager, log)
	conversationSvc := service.NewConversationService(conversationStore, manager, log)
	messageSvc := service.NewMessageService(conversationStore, manager, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, manager)
	sessionHandler := handler.NewSessionHandler(sessionSvc, log)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, log)
	streamHandler := handler.NewStreamHandler(hub, sessionSvc, handler.DefaultHeartbeatInterval, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Session
		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessionHandler.Status)
			r.Post("/sync", sessionHandler.Sync)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(middleware.ScopeSessionManage))
				r.Post("/connect", sessionHandler.Connect)
				r.Post("/disconnect", sessionHandler.Disconnect)
			})
		})

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/", conversationHandler.Open)
			r.Post("/{phone}/read", conversationHandler.MarkRead)
		})

		// Messages
		r.Post("/messages", messageHandler.Send)

		// Live events
		r.Get("/events", streamHandler.Stream)
	})

	if cfg.AutoConnect {
		log.Info("auto-connecting chat session")
		manager.Connect()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Open event streams never finish on their own.
	hub.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	if err := manager.Disconnect(shutdownCtx); err != nil {
		log.Warn("session teardown failed", zap.Error(err))
	}

	if streamManager != nil {
		if err := streamManager.Flush(shutdownCtx); err != nil {
			log.Warn("event mirror flush incomplete", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.Env == "development" {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}
