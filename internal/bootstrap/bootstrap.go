// Package bootstrap wires the core's collaborators (Event Log, Event Bus,
// Session Store, registries, Streaming Engine, Compaction Service, RPC
// Router) from a working directory, the one boot sequence both
// cmd/agentcore-server and cmd/agentcore share instead of duplicating it.
package bootstrap

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/agentcore-ai/agentcore/internal/agent"
	"github.com/agentcore-ai/agentcore/internal/compaction"
	"github.com/agentcore-ai/agentcore/internal/config"
	"github.com/agentcore-ai/agentcore/internal/events"
	"github.com/agentcore-ai/agentcore/internal/eventlog"
	"github.com/agentcore-ai/agentcore/internal/mcp"
	"github.com/agentcore-ai/agentcore/internal/modelregistry"
	"github.com/agentcore-ai/agentcore/internal/permission"
	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/internal/rpc"
	"github.com/agentcore-ai/agentcore/internal/sessionstore"
	"github.com/agentcore-ai/agentcore/internal/storage"
	"github.com/agentcore-ai/agentcore/internal/stream"
	"github.com/agentcore-ai/agentcore/internal/tool"
	"github.com/agentcore-ai/agentcore/internal/trigger"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// App holds every wired collaborator plus the RPC Router built on top of
// them. Closers must be called (in reverse order) on shutdown.
type App struct {
	Config      *types.Config
	EventLog    *eventlog.Store
	Bus         *events.Bus
	Store       *sessionstore.Store
	Providers   *provider.Registry
	Models      *modelregistry.Registry
	Tools       *tool.Registry
	Triggers    *trigger.Registry
	Agents      *agent.Registry
	Engine      *stream.Engine
	Compactor   *compaction.Service
	Router      *rpc.Router
	MCP         *mcp.Client
	Permissions *permission.Checker
}

// Build wires a full App rooted at workDir.
func Build(ctx context.Context, workDir string, logger zerolog.Logger) (*App, error) {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}

	eventLog, err := eventlog.Open(filepath.Join(paths.StoragePath(), "events.db"))
	if err != nil {
		return nil, err
	}

	bus := events.New(eventLog, logger)

	sessionStore, err := sessionstore.Open(filepath.Join(paths.StoragePath(), "sessions.db"))
	if err != nil {
		eventLog.Close()
		return nil, err
	}

	providerReg, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize some providers")
	}

	models := modelregistry.New()
	for _, p := range providerReg.List() {
		models.RegisterProvider(modelregistry.Provider{ID: p.ID(), Name: p.Name(), Models: p.Models()})
	}

	legacyStore := storage.New(paths.StoragePath())
	toolReg := tool.DefaultRegistry(workDir, legacyStore)
	toolReg.SetLogger(logger)
	triggerReg := trigger.NewDefault()

	agentReg := agent.NewRegistry()
	for _, a := range agent.BuiltInAgents() {
		agentReg.Register(a)
	}
	toolReg.RegisterTaskTool(agentReg)

	permChecker := permission.NewChecker()
	toolReg.SetPermissions(permChecker, agentReg)

	mcpClient := mcp.RegisterFromConfig(ctx, appConfig.MCP, toolReg, logger)

	engine := stream.New(sessionStore, bus, providerReg, models, toolReg, triggerReg, agentReg, logger)
	compactor := compaction.New(sessionStore, bus, providerReg, engine, logger)
	router := rpc.New(sessionStore, bus, engine, compactor, providerReg, models, workDir, logger)

	return &App{
		Config:      appConfig,
		EventLog:    eventLog,
		Bus:         bus,
		Store:       sessionStore,
		Providers:   providerReg,
		Models:      models,
		Tools:       toolReg,
		Triggers:    triggerReg,
		Agents:      agentReg,
		Engine:      engine,
		Compactor:   compactor,
		Router:      router,
		MCP:         mcpClient,
		Permissions: permChecker,
	}, nil
}

// Close releases the App's storage handles and MCP server connections.
func (a *App) Close() {
	a.MCP.Close()
	a.Store.Close()
	a.EventLog.Close()
}
