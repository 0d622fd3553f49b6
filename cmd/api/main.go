// Package main is the entry point for the geotag API server.
// Its sole responsibility is wiring dependencies together and starting the
// server. No business logic belongs here.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nbno/geotag-api/internal/auth"
	"github.com/nbno/geotag-api/internal/config"
	"github.com/nbno/geotag-api/internal/domain"
	"github.com/nbno/geotag-api/internal/handler"
	"github.com/nbno/geotag-api/internal/metrics"
	"github.com/nbno/geotag-api/internal/middleware"
	"github.com/nbno/geotag-api/internal/repo"
	"github.com/nbno/geotag-api/internal/service"
	"github.com/nbno/geotag-api/spec"
)

func main() {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// --- Logger -----------------------------------------------------------
	// JSON handler writes machine-readable output suitable for log
	// aggregators.
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// --- Database ---------------------------------------------------------
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURL))
	if err != nil {
		slog.Error("failed to create mongo client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			slog.Error("mongo disconnect error", "error", err)
		}
	}()

	// Verify the DB is reachable before accepting traffic.
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx, nil); err != nil {
		slog.Error("failed to connect to mongodb", "error", err)
		os.Exit(1)
	}
	slog.Info("database connection established")

	// --- Repos, services, handlers ---------------------------------------
	geotags := repo.NewGeoTagRepo(client.Database(cfg.MongoDatabase))
	if err := geotags.EnsureIndexes(context.Background()); err != nil {
		slog.Error("failed to create indexes", "error", err)
		os.Exit(1)
	}

	tokens := auth.NewService(cfg.JWTSigningKey, cfg.JWTIssuer)
	svc := service.NewGeoTagService(geotags, domain.HasRole, metrics.New())
	srv := handler.NewServer(svc, spec.OpenAPI)

	// --- Router -----------------------------------------------------------
	// Middleware is applied in order: RequestID → RealIP → Logger →
	// Recoverer → CORS → body limit → authentication. Authentication is
	// global so read endpoints can resolve the privileged role; routes that
	// mutate additionally require an authenticated caller (see
	// handler.Routes).
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))
	r.Use(middleware.NewMaxBodySizeHandler(cfg.MaxBodyBytes))
	r.Use(middleware.Authenticate(tokens, logger))

	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", srv.Routes())

	// --- HTTP Server ------------------------------------------------------
	// Explicit timeouts prevent slowloris and resource exhaustion attacks.
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown: wait for OS signal, then give in-flight requests
	// up to 15 seconds to complete before forcefully closing.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
