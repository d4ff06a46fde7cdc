package daemon

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/masbolt/masbolt/internal/agent"
	"github.com/masbolt/masbolt/internal/config"
	"github.com/masbolt/masbolt/internal/files"
	"github.com/masbolt/masbolt/internal/llm/configbuilder"
	"github.com/masbolt/masbolt/internal/observability"
	agentrpc "github.com/masbolt/masbolt/internal/rpc/agent"
	"github.com/masbolt/masbolt/internal/sandbox"
	"github.com/masbolt/masbolt/internal/semantic"
	"github.com/masbolt/masbolt/internal/store"
)

// App holds the components shared by the HTTP daemon and the MCP server.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Files   *files.Store
	Runner  *agentrpc.FlowRunner
	History *store.Store // nil when store.enabled is false
}

// NewApp wires the completion registry, sandbox, file store, orchestrator and run history.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics()

	registry, err := configbuilder.BuildRegistryFromConfig(cfg, configbuilder.Options{Logger: logger, Recorder: metrics})
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	fs, err := sandbox.NewLocal(cfg.Sandbox, logger)
	if err != nil {
		return nil, fmt.Errorf("build sandbox: %w", err)
	}
	fileStore := files.New(fs, files.Options{Logger: logger, Recorder: metrics})

	orchestrator := agent.NewOrchestrator(agent.NewStrategyEngine(registry, cfg.Strategy), fileStore, agent.Options{
		Pipeline: cfg.Pipeline,
		Logger:   logger,
		Recorder: metrics,
		Ranker:   semantic.NewEngine(0),
	})

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Files:   fileStore,
		Runner:  &agentrpc.FlowRunner{Pipeline: orchestrator, Logger: logger},
	}

	if cfg.Store.Enabled {
		history, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open run history: %w", err)
		}
		app.History = history
		app.Runner.History = history
	}

	return app, nil
}

// Start loads the sandbox into the file store and binds runs to ctx.
func (a *App) Start(ctx context.Context) error {
	a.Runner.Lifetime = ctx
	if err := a.Files.Initialize(ctx); err != nil {
		return fmt.Errorf("start app: %w", err)
	}
	return nil
}

// Close releases the run history database.
func (a *App) Close() error {
	if a.History == nil {
		return nil
	}
	return a.History.Close()
}
