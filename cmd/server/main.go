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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tessfa-ye/callcenter-livechat/internal/api"
	"github.com/tessfa-ye/callcenter-livechat/internal/auth"
	"github.com/tessfa-ye/callcenter-livechat/internal/call"
	"github.com/tessfa-ye/callcenter-livechat/internal/chat"
	"github.com/tessfa-ye/callcenter-livechat/internal/config"
	"github.com/tessfa-ye/callcenter-livechat/internal/dispatch"
	"github.com/tessfa-ye/callcenter-livechat/internal/events"
	"github.com/tessfa-ye/callcenter-livechat/internal/metrics"
	"github.com/tessfa-ye/callcenter-livechat/internal/presence"
	"github.com/tessfa-ye/callcenter-livechat/internal/session"
	"github.com/tessfa-ye/callcenter-livechat/internal/signaling"
	"github.com/tessfa-ye/callcenter-livechat/internal/storage"
	"github.com/tessfa-ye/callcenter-livechat/pkg/middleware"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Str("storage_mode", cfg.StorageMode).
		Str("auth_mode", cfg.AuthMode).
		Str("log_level", cfg.LogLevel).
		Msg("starting livechat server")

	// Context for background services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage backend
	store, err := storage.NewStore(ctx, cfg.StorageMode, cfg.SQLitePath, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	// Event export (optional)
	publisher := events.NewFallback(log.Logger)
	if cfg.EventsMode == "amqp" {
		pub, err := events.Connect(ctx, events.ConnectionOptions{
			URL:           cfg.AMQPURL,
			Exchange:      cfg.AMQPExchange,
			RetryAttempts: 5,
			Delay:         time.Second,
			Logger:        log.Logger,
		})
		if err != nil {
			log.Warn().Err(err).Msg("event broker unreachable, exports disabled")
		} else {
			publisher = pub
		}
	}
	defer publisher.Close()

	// Token verification
	verifier, err := auth.NewVerifier(cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize auth")
	}

	// Core components behind the per-agent dispatch boundary
	dispatcher := dispatch.NewDispatcher(log.Logger)
	registry := session.NewRegistry(log.Logger)
	signaler := signaling.NewLoopback(log.Logger)

	presenceSync := presence.NewSynchronizer(store, registry, publisher, log.Logger)
	relay := chat.NewRelay(store, registry, signaler, publisher, cfg.DedupWindow, int(cfg.MaxMessageSize), log.Logger)
	calls := call.NewManager(signaler, dispatcher, registry, publisher, cfg.RingTimeout, log.Logger)

	router := session.NewRouter(dispatcher, registry, presenceSync, calls, relay, log.Logger)
	go router.RunSignaling(ctx, signaler.Events())

	wsHandler := session.NewHandler(verifier, router, session.Tuning{
		WriteWait:    cfg.WriteWait,
		PongWait:     cfg.PongWait,
		PingPeriod:   cfg.PingPeriod,
		MaxFrameSize: cfg.MaxMessageSize,
	}, log.Logger)
	messagesHandler := api.NewMessagesHandler(relay, dispatcher, log.Logger)
	directoryHandler := api.NewDirectoryHandler(presenceSync, log.Logger)
	adminHandler := api.NewAdminHandler(presenceSync, registry, calls, log.Logger)

	// HTTP router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(verifier.Middleware)
		r.Get("/ws", wsHandler.ServeHTTP)

		r.Route("/api", func(r chi.Router) {
			r.Get("/conversations", messagesHandler.ListConversations)
			r.Get("/conversations/{partnerId}/messages", messagesHandler.GetHistory)
			r.Post("/conversations/{partnerId}/read", messagesHandler.MarkRead)
			r.Post("/messages", messagesHandler.SubmitMessage)
			r.Patch("/messages/{messageId}", messagesHandler.EditMessage)
			r.Delete("/messages/{messageId}", messagesHandler.DeleteMessage)
			r.Get("/agents/online", directoryHandler.OnlineAgents)

			r.Group(func(r chi.Router) {
				r.Use(api.RequireAdmin)
				r.Get("/admin/stats", adminHandler.Stats)
				r.Post("/admin/agents/{agentId}/logout", adminHandler.ForceLogout)
			})
		})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop background services
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"livechat"}`)
}
