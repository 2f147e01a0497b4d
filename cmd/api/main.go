// Package main is the entry point for the API server.
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

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-orchestrator/internal/app"
	"github.com/capitalize-ai/chat-orchestrator/internal/config"
	"github.com/capitalize-ai/chat-orchestrator/internal/events"
	"github.com/capitalize-ai/chat-orchestrator/internal/handler"
	natsclient "github.com/capitalize-ai/chat-orchestrator/internal/nats"
	"github.com/capitalize-ai/chat-orchestrator/internal/service"
	"github.com/capitalize-ai/chat-orchestrator/pkg/logger"
	"github.com/capitalize-ai/chat-orchestrator/pkg/tracing"
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
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-orchestrator", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS when event publishing is configured
	var (
		publisher events.Publisher
		pinger    handler.Pinger
	)
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		if err := natsclient.EnsureStream(ctx, natsClient.JetStream()); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}

		publisher = natsclient.NewPublisher(natsClient, log)
		pinger = natsClient
	} else {
		log.Info("NATS_URL not set, stream events stay in process")
	}

	// Initialize LLM backends
	backend, err := app.NewBackend(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize LLM backend", zap.Error(err))
	}

	// Initialize services
	chatSvc := service.NewChatService(backend.Router, backend.Catalog, service.Options{
		DefaultModels:        cfg.DefaultModels,
		MaxConcurrentStreams: cfg.MaxConcurrentStreams,
		MaxTokens:            cfg.MaxTokens,
		Publisher:            publisher,
	}, log)

	// Create router
	r := handler.NewRouter(handler.RouterConfig{
		Service:           chatSvc,
		Logger:            log,
		Events:            pinger,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		SubmitRateLimit:   cfg.SubmitRateLimit,
		Heartbeat:         cfg.SSEHeartbeat,
	})

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
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Stop streams first so open SSE connections see their sessions close.
	chatSvc.Close()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
