package bootstrap

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"ytindexer/internal/config"
	"ytindexer/internal/logger"
	"ytindexer/pkg/logging"
)

var errConfigRequired = errors.New("config file is required")

// LoadRuntime reads .env when present, then the YAML config named by configFile
// or CONFIG_FILE, and builds the service logger.
func LoadRuntime(configFile, serviceName string) (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		earlyLog.Warn("Failed to load .env file: %v", err)
	}

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, errConfigRequired
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, fmt.Errorf("load config %s: %w", configFile, err)
	}

	log, err := logger.NewWithConfig(cfg.Logging, logger.WithService(serviceName))
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}
