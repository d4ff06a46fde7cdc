package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/masbolt/masbolt/internal/daemon"
	"github.com/masbolt/masbolt/internal/logging"
	"github.com/masbolt/masbolt/internal/mcpserver"
)

// NewMCPCmd serves the pipeline and file store as MCP tools over stdio.
func NewMCPCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve masbolt tools over the Model Context Protocol (stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			// stdout carries the protocol; the console logger writes to stderr.
			logger, err := logging.FromConfig(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			app, err := daemon.NewApp(cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close() //nolint:errcheck

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			go func() {
				if err := app.Files.Run(ctx); err != nil {
					logger.Warn("file watch stopped", zap.Error(err))
				}
			}()

			return mcpserver.New(app.Runner, app.Files, logger).ServeStdio()
		},
	}
}
