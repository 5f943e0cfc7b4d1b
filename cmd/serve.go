package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/martinemde/harness/server"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var (
		addr       string
		configPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP run service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadFile(configPath)
			if err != nil {
				return err
			}
			// Flags override the file; the file overrides the defaults.
			if addr != "" {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("runs-dir") || configPath == "" {
				cfg.RunsDir = opts.runsDir
			}
			if cmd.Flags().Changed("data-dir") || configPath == "" {
				cfg.DataDir = opts.dataDir
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			s, err := server.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:8765)")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}
