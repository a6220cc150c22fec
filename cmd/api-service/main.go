package main

import (
	"context"
	"os"

	_ "ytindexer/cmd/api-service/docs"

	"ytindexer/internal/config"
	"ytindexer/internal/constants"
	"ytindexer/internal/logger"
	"ytindexer/pkg/bootstrap"
)

// @title           YouTube Indexer API
// @version         1.0.0
// @description     WebSub webhook intake and search over indexed YouTube videos and channels

// @host      localhost:8080
// @BasePath  /

// @schemes   http https

func main() {
	cmd := bootstrap.ServiceCommand(constants.ServiceNameAPI,
		"Webhook gateway and search API",
		"Accepts WebSub notifications and serves video search and channel stats",
		func(cfg *config.Config, log logger.Logger) bootstrap.Service { return NewApp(cfg, log) },
	)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
