package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/agentcore/internal/adapters/duckdb"
	"github.com/manthysbr/agentcore/internal/adapters/llm"
	"github.com/manthysbr/agentcore/internal/config"
	"github.com/manthysbr/agentcore/internal/core/domain"
	"github.com/manthysbr/agentcore/internal/core/services"
	"github.com/manthysbr/agentcore/pkg/kernel"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: search ./, ~/.config/agentcore, /etc/agentcore)")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := loadConfig(bootLogger, *configPath)
	if err != nil {
		bootLogger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(os.Stdout, cfg.Log)
	if err != nil {
		bootLogger.Error("logger setup failed", "error", err)
		os.Exit(1)
	}
	logger.Info("starting agentcore daemon", "model", cfg.Model.Model, "reasoning", cfg.Reasoning.Engine)

	if err := run(logger, cfg); err != nil {
		logger.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig falls back to built-in defaults when no file is found and no
// explicit path was given.
func loadConfig(logger *slog.Logger, explicit string) (*domain.AppConfig, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, err
		}
		logger.Info("no config file found, using defaults")
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		logger.Info("config loaded", "path", path)
	}
	return cfg, nil
}

func run(logger *slog.Logger, cfg *domain.AppConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	// Adapters
	repo, err := duckdb.NewRepository(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	model := llm.NewOpenAIClient(logger, cfg.Model)

	tools := domain.NewToolRegistry()
	if err := services.RegisterBuiltinTools(tools); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}

	// Core services
	eventBus := services.NewEventBus(logger)
	tracer := services.NewTraceCollector(logger, eventBus, repo)

	engine, err := services.NewReasoningEngine(logger, model, cfg.Reasoning, cfg.Model, cfg.Orchestrator.ModelTimeout)
	if err != nil {
		return fmt.Errorf("failed to init reasoning engine: %w", err)
	}

	orch := services.NewOrchestrator(logger, model, repo, cfg,
		services.WithReasoning(engine),
		services.WithTracer(tracer),
		services.WithMetrics(tracer),
		services.WithEventBus(eventBus),
		services.WithThoughtsHandler(eventBus.PublishThoughts),
	)
	runner := services.NewRunner(logger, orch, cfg.Runner)

	apiServer := kernel.NewServer(logger, runner, repo, tools, eventBus, tracer, repo, cfg)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.Server.Addr, "tools", tools.Len())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
