package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/commonkeep/gistgraph/internal/graph"
	"github.com/commonkeep/gistgraph/internal/memory"
	"github.com/commonkeep/gistgraph/internal/server/api"
)

func main() {
	// Optional .env for local development; real deployments use the
	// process environment.
	_ = godotenv.Load()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "gistgraph",
	})

	backend := getEnv("GRAPH_BACKEND", "sqlite")
	port := getEnv("PORT", "8080")

	ctx := context.Background()

	var repo graph.Repository
	var err error
	switch backend {
	case "neo4j":
		repo, err = graph.NewNeo4j(ctx, graph.Config{
			URI:      getEnv("NEO4J_URI", "bolt://localhost:7687"),
			Username: getEnv("NEO4J_USER", "neo4j"),
			Password: getEnv("NEO4J_PASSWORD", "password"),
			Database: getEnv("NEO4J_DATABASE", "neo4j"),
		})
	case "sqlite":
		repo, err = graph.NewSQLite(ctx, getEnv("SQLITE_PATH", "gistgraph.db"))
	default:
		logger.Fatal("unknown graph backend", "backend", backend)
	}
	if err != nil {
		logger.Fatal("failed to connect to graph backend", "backend", backend, "err", err)
	}
	defer repo.Close(ctx)

	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Fatal("failed to ensure indexes", "err", err)
	}

	logger.Info("connected to graph backend", "backend", backend)

	store := memory.NewStore(repo, logger)
	apiServer := api.New(store)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Mount("/", apiServer.Routes())

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting gistgraph server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "err", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", "err", err)
	}

	logger.Info("server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
