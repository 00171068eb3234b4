// Package main is the entry point for the sync server.
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

	"github.com/chatwire/messenger-sync/internal/config"
	"github.com/chatwire/messenger-sync/internal/handler"
	"github.com/chatwire/messenger-sync/internal/identity"
	"github.com/chatwire/messenger-sync/internal/middleware"
	"github.com/chatwire/messenger-sync/internal/service"
	"github.com/chatwire/messenger-sync/internal/store"
	"github.com/chatwire/messenger-sync/internal/store/memory"
	"github.com/chatwire/messenger-sync/internal/store/natskv"
	"github.com/chatwire/messenger-sync/pkg/logger"
	"github.com/chatwire/messenger-sync/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting sync server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messenger-sync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Pick the document store backend. The in-memory store is meant for
	// local development and tests.
	var (
		docStore store.Store
		checker  handler.ReadinessChecker
	)
	if os.Getenv("STORE_BACKEND") == "memory" {
		log.Warn("using in-memory store, data will not survive a restart")
		docStore = memory.New()
	} else {
		natsClient, err := natskv.Connect(ctx, natskv.Config{
			URL:    cfg.NATSURL,
			Bucket: cfg.NATSBucket,
			Token:  cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()
		docStore = natsClient.Store()
		checker = natsClient
	}

	// Initialize identity and services
	ids := identity.NewMemoryProvider()
	accountSvc := service.NewAccountService(ids, docStore, cfg.JWTSecret, cfg.JWTExpiration, cfg.RegisterTimeout, log)
	conversationSvc := service.NewConversationService(docStore, log)
	messageSvc := service.NewMessageService(docStore, log)
	profileSvc := service.NewProfileService(docStore, log)
	searchSvc := service.NewSearchService(docStore, log)

	// Joiners are created per request or stream, never shared: each one
	// subscribes only to the caller's participants and is closed when the
	// session ends.
	newJoiner := func() *service.ProfileJoiner {
		return service.NewProfileJoiner(docStore, cfg.JoinBudget, log)
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(checker)
	authHandler := handler.NewAuthHandler(accountSvc, log)
	conversationHandler := handler.NewConversationHandler(conversationSvc, newJoiner, searchSvc, log)
	messageHandler := handler.NewMessageHandler(conversationSvc, messageSvc, log)
	profileHandler := handler.NewProfileHandler(profileSvc, searchSvc, log)
	streamHandler := handler.NewStreamHandler(conversationSvc, messageSvc, newJoiner, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Registration and login (no auth required)
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
	})

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)
			r.Get("/stream", streamHandler.Conversations)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/participants", conversationHandler.AddParticipant)

				// Messages
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Get("/messages/stream", streamHandler.Messages)
			})
		})

		// Profiles
		r.Route("/profiles", func(r chi.Router) {
			r.Get("/me", profileHandler.Me)
			r.Put("/me", profileHandler.Update)
			r.Get("/search", profileHandler.Search)
		})
	})

	// Create HTTP server. WriteTimeout stays zero so SSE streams are not
	// cut off by the server.
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

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
