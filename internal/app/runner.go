package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/retro-sync/internal/config"
	mcputil "github.com/sha1n/retro-sync/internal/mcp"
	"github.com/spf13/pflag"
)

// ServerName is the MCP implementation name
const ServerName = "retro-sync"

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	NewEngine         func(context.Context, *config.Settings, *slog.Logger) (*Engine, error)
	StartSSEServer    func(context.Context, *mcp.Server, *config.Settings, mcputil.StatusProvider) error
	CreateServer      func(*Engine, string) *mcp.Server
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
	LogOutput         io.Writer     // Optional: defaults to stderr
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		NewEngine:      NewEngine,
		StartSSEServer: StartSSEServer,
		CreateServer:   CreateMCPServer,
	}
}

// RunWithDeps runs the sync engine and the configured MCP transport until
// ctx is done or the transport fails
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Always log to stderr; stdout belongs to the stdio transport
	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := config.NewLogger(settings.Log, out)
	slog.SetDefault(logger)

	logger.Info("Starting retro-sync", "version", version)
	config.LogWithLogger(settings, logger)

	engine, err := params.NewEngine(ctx, settings, logger)
	if err != nil {
		return fmt.Errorf("failed to start sync engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("Failed to close sync engine", "error", err)
		}
	}()

	if settings.Transport == config.TransportNone || settings.Transport == "" {
		return ignoreCanceled(engine.Scheduler.Start(ctx))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedErr := make(chan error, 1)
	go func() { schedErr <- engine.Scheduler.Start(ctx) }()
	defer func() {
		engine.Scheduler.Stop()
		<-schedErr
	}()

	mcpServer := params.CreateServer(engine, version)

	if settings.Transport == config.TransportStdio {
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return ignoreCanceled(mcpServer.Run(ctx, transport))
	}

	logger.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
	return params.StartSSEServer(ctx, mcpServer, settings, engine.Status())
}

// CreateMCPServer creates the MCP server with the search and status tools
func CreateMCPServer(engine *Engine, version string) *mcp.Server {
	cfg := mcputil.ServerConfig{
		Name:    ServerName,
		Version: version,
		Status:  engine.Status(),
	}
	if engine.Enabled() {
		cfg.Index = engine.Index
		cfg.Collections = engine.Collections
	}
	return mcputil.CreateServer(cfg)
}

// ignoreCanceled treats cancellation as a clean shutdown
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
