package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/querylens/schema-engine/pkg/config"
	"github.com/querylens/schema-engine/pkg/database"
	"github.com/querylens/schema-engine/pkg/embedding"
	"github.com/querylens/schema-engine/pkg/extractor"
	"github.com/querylens/schema-engine/pkg/handlers"
	"github.com/querylens/schema-engine/pkg/logging"
	"github.com/querylens/schema-engine/pkg/repositories"
	"github.com/querylens/schema-engine/pkg/services"
	"github.com/querylens/schema-engine/pkg/vectorstore"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("engine_db", logging.SanitizeConnectionString(cfg.Engine.URL)),
		zap.String("target_db", logging.SanitizeConnectionString(cfg.Target.URL)),
		zap.String("embedding_model", cfg.Embedding.Model))

	ctx := context.Background()

	// Inside a container, localhost DSNs point at the host machine.
	engineURL := config.ResolveDSNForDocker(cfg.Engine.URL)
	targetURL := config.ResolveDSNForDocker(cfg.Target.URL)

	// Migrations run over database/sql so golang-migrate can manage its
	// own transaction state.
	migrationDB, err := sql.Open("pgx", engineURL)
	if err != nil {
		logger.Fatal("Failed to open engine database for migrations", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Engine.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	engineDB, err := database.NewEngineDB(ctx, engineURL, cfg.Engine.MaxConnections)
	if err != nil {
		logger.Fatal("Failed to connect to engine database", zap.Error(err))
	}
	defer engineDB.Close()

	targetPool, err := database.NewTargetPool(ctx, targetURL)
	if err != nil {
		logger.Fatal("Failed to connect to target database", zap.Error(err))
	}
	defer targetPool.Close()

	embedder, err := embedding.NewClient(&embedding.Config{
		Endpoint: cfg.Embedding.Endpoint,
		Model:    cfg.Embedding.Model,
		APIKey:   cfg.Embedding.APIKey,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create embedding client", zap.Error(err))
	}

	source := extractor.New(targetPool, cfg.Target.StatementTimeoutSeconds, logger)
	store := vectorstore.NewPGStore(engineDB, logger)
	historyRepo := repositories.NewHistoryRepository(engineDB)

	schemaRAG := services.NewSchemaRAGService(source, embedder, store, cfg.Retrieval.SchemaCollection, logger)
	historyRAG := services.NewHistoryRAGService(historyRepo, schemaRAG, embedder, store, cfg.Retrieval.HistoryCollection, logger)

	logger.Info("Building schema index")
	if err := schemaRAG.Start(ctx); err != nil {
		logger.Fatal("Failed to build schema index", zap.Error(err))
	}
	logger.Info("Loading history index")
	if err := historyRAG.Start(ctx); err != nil {
		logger.Fatal("Failed to load history index", zap.Error(err))
	}

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	schemaHandler := handlers.NewSchemaHandler(schemaRAG, cfg.Retrieval.SchemaTopK, logger)
	schemaHandler.RegisterRoutes(mux)

	historyHandler := handlers.NewHistoryHandler(historyRAG, cfg.Retrieval, logger)
	historyHandler.RegisterRoutes(mux)

	addr := net.JoinHostPort(cfg.BindAddr, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting schema-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
