package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/simple-blob/pkg/blobstorage/api"
	"github.com/tendant/simple-blob/pkg/blobstorage/config"
)

// ServerEnv holds settings that only the server binary reads
type ServerEnv struct {
	ConfigFile      string        `env:"CONFIG_FILE" env-description:"JSON, YAML or TOML configuration file"`
	LogLevel        string        `env:"LOG_LEVEL" env-default:"info"`
	LogFormat       string        `env:"LOG_FORMAT" env-default:"text"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" env-default:"67108864"`
}

func newLogger(env ServerEnv) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(env.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(env.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// newRouter mounts the blob API under /api/v1 next to the health check
func newRouter(handler *api.BlobHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, http.StatusText(http.StatusOK))
	})
	r.Mount("/api/v1", handler.Routes())

	return r
}

func main() {
	var env ServerEnv
	if err := cleanenv.ReadEnv(&env); err != nil {
		slog.Error("Failed to read environment", "err", err)
		os.Exit(1)
	}

	logger := newLogger(env)
	slog.SetDefault(logger)

	opts := []config.Option{}
	if env.ConfigFile != "" {
		opts = append(opts, config.WithConfigFile(env.ConfigFile))
	}
	opts = append(opts, config.WithEnv())

	cfg, err := config.Load(opts...)
	if err != nil {
		logger.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	repo, closeRepo, err := cfg.BuildRepository(ctx)
	if err != nil {
		logger.Error("Failed to open metadata repository", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeRepo(); err != nil {
			logger.Warn("Failed to close metadata repository", "err", err)
		}
	}()

	registry, err := cfg.BuildRegistry(ctx, repo, logger)
	if err != nil {
		logger.Error("Failed to build containers", "err", err)
		os.Exit(1)
	}

	handler := api.NewBlobHandler(registry,
		api.WithLogger(logger),
		api.WithMaxBodyBytes(env.MaxBodyBytes),
	)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Blob server starting",
			"addr", cfg.ListenAddr,
			"containers", len(registry.Containers()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}

	logger.Info("Server exiting")
}
