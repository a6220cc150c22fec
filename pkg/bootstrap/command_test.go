package bootstrap

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytindexer/internal/config"
	"ytindexer/internal/logger"
)

type fakeService struct {
	initErr error
	ran     bool
}

func (s *fakeService) Initialize(ctx context.Context) error { return s.initErr }

func (s *fakeService) Run(ctx context.Context) error {
	s.ran = true
	return nil
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o600))
	return path
}

func TestServiceCommand_RunsService(t *testing.T) {
	svc := &fakeService{}
	var got *config.Config
	cmd := ServiceCommand("indexer-service", "", "", func(cfg *config.Config, log logger.Logger) Service {
		got = cfg
		return svc
	})
	cmd.SetArgs([]string{"serve", "--config", writeConfig(t)})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.True(t, svc.ran)
	assert.Equal(t, "error", got.Logging.Level)
}

func TestServiceCommand_InitializeFailureSkipsRun(t *testing.T) {
	svc := &fakeService{initErr: errors.New("mongo unreachable")}
	cmd := ServiceCommand("extractor-service", "", "", func(*config.Config, logger.Logger) Service { return svc })
	cmd.SetArgs([]string{"--config", writeConfig(t)})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongo unreachable")
	assert.False(t, svc.ran)
}

func TestServiceCommand_RequiresConfig(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cmd := ServiceCommand("api-service", "", "", func(*config.Config, logger.Logger) Service { return &fakeService{} })
	cmd.SetArgs([]string{})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, errConfigRequired)
}

func TestServiceCommand_BadConfigReturnsError(t *testing.T) {
	cmd := ServiceCommand("api-service", "", "", func(*config.Config, logger.Logger) Service { return &fakeService{} })
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
