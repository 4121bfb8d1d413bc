package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mscottkey/fable-engine/internal/config"
	"github.com/mscottkey/fable-engine/internal/engine"
	"github.com/mscottkey/fable-engine/internal/llm"
	"github.com/mscottkey/fable-engine/internal/narrative"
	"github.com/mscottkey/fable-engine/internal/pipeline"
	"github.com/mscottkey/fable-engine/internal/prompts"
	"github.com/mscottkey/fable-engine/internal/rag"
	"github.com/mscottkey/fable-engine/internal/storage"
	"github.com/mscottkey/fable-engine/internal/web"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Storage connections
	mysqlStore, err := storage.NewMySQLStore(cfg.Database.MySQL)
	if err != nil {
		logger.Fatal("mysql connection failed", zap.Error(err))
	}
	defer mysqlStore.Close()
	logger.Info("mysql connected")

	redisStore, err := storage.NewRedisStore(cfg.Database.Redis)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer redisStore.Close()
	logger.Info("redis connected")

	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Database.Qdrant.Host,
		Port:   cfg.Database.Qdrant.Port,
		APIKey: cfg.Database.Qdrant.APIKey,
	})
	if err != nil {
		logger.Fatal("qdrant connection failed", zap.Error(err))
	}
	defer qdrantClient.Close()
	logger.Info("qdrant connected")

	// AI components
	aiClient := llm.NewClient(cfg.AI.LLM, cfg.AI.Embedding)
	embedding := rag.NewEmbeddingService(aiClient)
	memories := rag.NewMemoryStore(qdrantClient, embedding, cfg.Database.Qdrant, logger)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := memories.EnsureCollection(ctx, cfg.Database.Qdrant.VectorSize); err != nil {
			logger.Warn("qdrant collection init failed, recall degraded", zap.Error(err))
		}
		cancel()
	}

	// Generation stack
	registry := prompts.Defaults()
	generator := engine.NewGenerator(aiClient, registry, logger)
	coordinator := pipeline.NewCoordinator(generator, mysqlStore, logger)

	// Session runtime
	hub := web.NewSessionHub(logger)
	go hub.Run()

	sessionStore := storage.NewCachedSessionStore(mysqlStore, redisStore)
	classifier := narrative.NewClassifier(generator, logger)
	runtime := narrative.NewRuntime(
		coordinator,
		generator,
		classifier,
		sessionStore,
		redisStore,
		memories,
		hub,
		cfg.Session,
		logger,
	)

	handlers := web.NewHandlers(coordinator, runtime, mysqlStore, hub, logger)
	router := web.NewRouter(handlers, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.Output != "" {
		zcfg.OutputPaths = []string{cfg.Output}
	}
	return zcfg.Build()
}
