package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ovenKiller/lithelper/internal/config"
	"github.com/ovenKiller/lithelper/internal/mcp"
	"github.com/ovenKiller/lithelper/internal/observability"
)

// MCPCommand holds configuration for the MCP server command.
type MCPCommand struct {
	configPath string
	verbose    bool
}

// NewMCPCommand creates the mcp command.
func NewMCPCommand() *cobra.Command {
	mc := &MCPCommand{}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP stdio server",
		Long: `MCP starts a Model Context Protocol server over stdio, exposing
organize and batch-status tools so AI assistants can drive paper batches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return mc.run(cobraCmd.Context())
		},
	}

	cmd.Flags().StringVar(&mc.configPath, "config", "", "config file path")
	cmd.Flags().BoolVarP(&mc.verbose, "verbose", "v", false, "verbose output")

	return cmd
}

func (mc *MCPCommand) run(ctx context.Context) error {
	cfg, err := config.LoadConfig(mc.configPath)
	if err != nil {
		return err
	}

	// Stdio carries the protocol; logs must go to stderr as JSON.
	cfg.Telemetry.LogJSON = true

	providers, err := initObservability(cfg, mc.verbose, observability.ModeMCP)
	if err != nil {
		return err
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	app, err := buildApp(cfg, providers)
	if err != nil {
		return err
	}

	defer app.organizer.Close()

	app.dispatcher.Start(ctx)

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()

		stopErr := app.dispatcher.Stop(stopCtx)
		if stopErr != nil {
			providers.Logger.Warn("executor drain incomplete", "error", stopErr)
		}
	}()

	srv := mcp.NewServer(mcp.ServerDeps{
		Logger:                providers.Logger,
		Organizer:             app.organizer,
		Dispatcher:            app.dispatcher,
		DefaultTargetLanguage: cfg.Organize.DefaultTargetLanguage,
		DefaultStandard:       cfg.Organize.DefaultStandard,
	})

	return srv.Run(ctx)
}
