package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fromscratch/from-scratch/pkg/fromscratch/api"
	"github.com/fromscratch/from-scratch/pkg/fromscratch/config"
)

func main() {
	// Missing .env is fine, the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	setupLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	backends, err := config.Build(ctx, cfg)
	cancel()
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}
	defer backends.Close()

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: routes(cfg, backends),
	}

	go func() {
		slog.Info("Server starting", "addr", cfg.Addr(), "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Forced shutdown", "err", err)
	}
	slog.Info("Server stopped")
}

func setupLogger(cfg *config.Config) {
	var handler slog.Handler
	if cfg.Environment == "development" {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
}

func routes(cfg *config.Config, backends *config.Backends) http.Handler {
	logger := httplog.NewLogger("from-scratch", httplog.Options{
		LogLevel: slog.LevelInfo,
		Concise:  true,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.BaseURL, "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	analytics := api.NewAnalyticsHandler(backends.Service)
	posts := api.NewPostsHandler(backends.Service)
	preview := api.NewPreviewHandler(backends.Service)
	media := api.NewMediaHandler(backends.Blobs)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Mount("/analytics", analytics.Routes())
		r.Mount("/", posts.Routes())
		r.Mount("/preview", preview.Routes())

		r.Route("/admin", func(r chi.Router) {
			tokenAuth := jwtauth.New("HS256", []byte(cfg.JWTSecret), nil)
			r.Use(jwtauth.Verifier(tokenAuth))
			r.Use(api.AdminOnly(cfg.AdminEmail))

			r.Mount("/analytics", analytics.AdminRoutes())
			r.Mount("/", posts.AdminRoutes())
			r.Mount("/preview", preview.AdminRoutes())
			r.Mount("/media", media.AdminRoutes())
		})
	})
	r.Mount("/media", media.Routes())

	return r
}
