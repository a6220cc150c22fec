package bootstrap

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ytindexer/internal/config"
	"ytindexer/internal/logger"
)

// Service is a long-running process: the API or one of the queue workers.
type Service interface {
	Initialize(ctx context.Context) error
	Run(ctx context.Context) error
}

// ServiceCommand builds a root command that runs the service, also reachable
// as "serve". SIGINT and SIGTERM cancel the run context.
func ServiceCommand(name, short, long string, build func(*config.Config, logger.Logger) Service) *cobra.Command {
	var configFile string

	run := func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := LoadRuntime(configFile, name)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.InfowCtx(ctx, "Starting service", "service", name)

		svc := build(cfg, log)
		if err := svc.Initialize(ctx); err != nil {
			log.ErrorwCtx(ctx, "Initialization failed", "error", err)
			return fmt.Errorf("initialize %s: %w", name, err)
		}
		if err := svc.Run(ctx); err != nil {
			log.ErrorwCtx(ctx, "Service stopped with error", "error", err)
			return err
		}
		log.InfowCtx(ctx, "Service stopped")
		return nil
	}

	root := &cobra.Command{
		Use:          name,
		Short:        short,
		Long:         long,
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (or CONFIG_FILE)")
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run " + name,
		RunE:  run,
	})
	return root
}
