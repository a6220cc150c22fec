package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ytindexer/internal/constants"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          constants.ServiceNameCLI,
		Short:        "YouTube indexer administration",
		Long:         "ytctl prepares the stores, reconciles the search index and manages dead letters",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(deadLettersCmd())
	rootCmd.AddCommand(queuesCmd())
	rootCmd.AddCommand(filterCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
