// Twinning - Gemini chat server
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
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/twinning/internal/api"
	"github.com/ashureev/twinning/internal/chat"
	"github.com/ashureev/twinning/internal/config"
	"github.com/ashureev/twinning/internal/identity"
	"github.com/ashureev/twinning/internal/middleware"
	"github.com/ashureev/twinning/internal/session"
	"github.com/ashureev/twinning/internal/store"
	"github.com/ashureev/twinning/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "model", chat.DefaultModel)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	// Initialize services.
	sessions := session.NewManager()

	var genOpts []chat.GeminiOption
	if cfg.Gemini.BaseURL != "" {
		genOpts = append(genOpts, chat.WithBaseURL(cfg.Gemini.BaseURL))
		slog.Info("Using custom Gemini endpoint", "base_url", cfg.Gemini.BaseURL)
	}
	gen := chat.NewGeminiGenerator(genOpts...)

	procOpts := []chat.ProcessorOption{
		chat.WithLogger(logger),
		chat.WithModelName(gen.Model()),
	}
	if cfg.InteractionLogEnabled {
		procOpts = append(procOpts, chat.WithRecorder(repo))
	} else {
		slog.Info("Interaction audit disabled")
	}
	processor := chat.NewProcessor(gen, procOpts...)

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, sessions, cfg.HTTP.HealthCheckTimeout)
	interactionsHandler := api.NewInteractionsHandler(repo)
	chatHandler := chat.NewHandler(sessions, processor, cfg.HTTP.MaxRequestBodySize)
	wsHandler := chat.NewWebSocketHandler(sessions, processor, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Everything else carries an anonymous identity and a tab session ID.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

		chatHandler.RegisterRoutes(r)
		interactionsHandler.RegisterRoutes(r)

		// WebSocket endpoint.
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: POST /api/chat and /ws/chat wait on the completion service.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout: cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background workers.
	session.StartSweeper(ctx, sessions, cfg.Session.SweepInterval, cfg.Session.TTL)
	store.StartRetentionWorker(ctx, repo, cfg.Session.SweepInterval, cfg.InteractionRetention)

	g, gctx := errgroup.WithContext(ctx)

	// Start server.
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Shut down on signal or if the listener fails.
	g.Go(func() error {
		<-gctx.Done()
		stop()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully", "open_sessions", sessions.Len())
}
