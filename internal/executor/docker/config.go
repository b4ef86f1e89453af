package docker

import (
	"time"

	"github.com/sakif/phpinline/internal/config"
)

// Config holds the configuration for sandboxed PHP execution.
type Config struct {
	// Image is the PHP CLI image every pooled container runs.
	Image string
	// MemoryLimit is the maximum amount of memory the container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// Timeout caps one run when the request carries no timeout of its own.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
}

// DefaultConfig provides sensible defaults for a PHP sandbox.
func DefaultConfig() Config {
	return FromSettings(config.Default().Docker)
}

// FromSettings converts the docker section of the application settings.
func FromSettings(s config.DockerConfig) Config {
	cfg := Config{
		Image:       s.Image,
		MemoryLimit: s.MemoryMB * 1024 * 1024,
		CPULimit:    s.CPULimit,
		Timeout:     time.Duration(s.TimeoutSeconds) * time.Second,
		PoolSize:    s.PoolSize,
	}
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	return cfg
}
