package main

import (
	"context"
	"os"

	"ytindexer/internal/config"
	"ytindexer/internal/constants"
	"ytindexer/internal/logger"
	"ytindexer/pkg/bootstrap"
)

func main() {
	cmd := bootstrap.ServiceCommand(constants.ServiceNameIndexer,
		"Indexing worker",
		"Stores video updates in MongoDB, syncs them to Elasticsearch and maintains channel stats",
		func(cfg *config.Config, log logger.Logger) bootstrap.Service { return NewApp(cfg, log) },
	)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
