package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/execdesk/execdesk/internal/agent"
	"github.com/execdesk/execdesk/internal/api"
	"github.com/execdesk/execdesk/internal/bus"
	"github.com/execdesk/execdesk/internal/common/config"
	"github.com/execdesk/execdesk/internal/common/logger"
	"github.com/execdesk/execdesk/internal/coordinator"
	"github.com/execdesk/execdesk/internal/delegation"
	"github.com/execdesk/execdesk/internal/kb"
	"github.com/execdesk/execdesk/internal/task"
	"github.com/execdesk/execdesk/internal/task/repository"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting ExecDesk service...")

	// 3. Message bus, optionally mirrored to NATS
	messageBus := bus.New(cfg.Bus.HistoryCapacity, log)
	if cfg.NATS.URL != "" {
		mirror, err := bus.NewNATSMirror(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer mirror.Close()
		messageBus.AddMirror(mirror)
	}

	// 4. Executive agent registry
	registry := agent.NewRegistry(cfg.Bus.MaxHistoryLength, log)

	// 5. Task store: sqlite when a path is configured, memory otherwise
	var repo repository.Repository
	if cfg.Tasks.StorePath != "" {
		repo, err = repository.NewSQLiteRepository(cfg.Tasks.StorePath)
		if err != nil {
			log.Fatal("Failed to open task store", zap.Error(err))
		}
		log.Info("Using sqlite task store", zap.String("path", cfg.Tasks.StorePath))
	} else {
		repo = repository.NewMemoryRepository()
	}
	defer repo.Close()
	tasks := task.NewManager(repo, registry, log)

	// 6. Knowledge store
	var embedder kb.Embedder
	if cfg.Knowledge.EmbeddingURL != "" {
		embedder = kb.NewHTTPEmbedder(cfg.Knowledge)
	} else {
		embedder = kb.NewHashEmbedder(cfg.Knowledge.EmbeddingDim)
	}
	store, err := kb.NewStore(cfg.Knowledge, embedder, log)
	if err != nil {
		log.Fatal("Failed to open knowledge store", zap.Error(err))
	}
	defer store.Close()

	// 7. Delegation engine and request coordinator
	engine := delegation.NewEngine(registry, tasks, messageBus, cfg.Delegation.Threshold, cfg.Delegation.MaxDepth, log)
	generator := coordinator.NewHTTPGenerator(cfg.LLM)
	coord := coordinator.New(registry, engine, store, tasks, messageBus, generator,
		cfg.LLM.WorkerPoolSize, cfg.LLM.RequestTimeoutDuration(), log)

	// 8. HTTP server
	handler := api.NewHandler(registry, messageBus, tasks, store, coord, log)
	stream := api.NewEventStream(messageBus, log)
	router := api.NewRouter(handler, stream, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 9. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down ExecDesk service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	coord.Shutdown()

	log.Info("ExecDesk service stopped")
}
