package docker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/phpinline/internal/config"
	"github.com/sakif/phpinline/internal/executor"
	"github.com/sakif/phpinline/internal/executor/docker"
	"github.com/sakif/phpinline/internal/logging"
)

func TestFromSettings(t *testing.T) {
	cfg := docker.FromSettings(config.DockerConfig{
		Image:          "php:8.2-cli-alpine",
		MemoryMB:       64,
		CPULimit:       0.25,
		PoolSize:       0,
		TimeoutSeconds: 3,
	})

	assert.Equal(t, "php:8.2-cli-alpine", cfg.Image)
	assert.Equal(t, int64(64*1024*1024), cfg.MemoryLimit)
	assert.Equal(t, 0.25, cfg.CPULimit)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.PoolSize, "pool size is clamped to at least one")
}

func TestDockerExecutor(t *testing.T) {
	if os.Getenv("CI") != "" || os.Getenv("PHPINLINE_DOCKER_TESTS") == "" {
		t.Skip("set PHPINLINE_DOCKER_TESTS=1 to run against a local docker daemon")
	}

	cfg := docker.DefaultConfig()
	cfg.PoolSize = 1

	e, err := docker.New(cfg, logging.NewNop())
	require.NoError(t, err)
	defer e.Close()

	write := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "script.php")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	t.Run("successful execution", func(t *testing.T) {
		path := write(t, "<?php echo \"Hello, QuickPHP!\";")

		res, err := e.Execute(context.Background(), executor.ExecutionRequest{ScriptPath: path})
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "Hello, QuickPHP!", res.Stdout)
		assert.Greater(t, res.Duration, time.Duration(0))
	})

	t.Run("parse error", func(t *testing.T) {
		path := write(t, "<?php echo ;")

		res, err := e.Execute(context.Background(), executor.ExecutionRequest{ScriptPath: path})
		require.NoError(t, err)
		assert.NotEqual(t, 0, res.ExitCode)
	})

	t.Run("infinite loop timeout", func(t *testing.T) {
		path := write(t, "<?php while (true) {}")

		res, err := e.Execute(context.Background(), executor.ExecutionRequest{
			ScriptPath: path,
			Timeout:    2 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, 124, res.ExitCode)
		assert.Contains(t, res.SpawnErr, "timed out")
	})
}
