// Package config holds phpinline's settings.
//
// Settings come from three layers, applied in order:
//
//  1. Defaults (Default)
//  2. An optional YAML file (Load); a missing file means "use defaults"
//  3. Environment variables (PHPINLINE_*, plus PORT / DB_PATH / JWT_SECRET)
//
// Editors may push further changes at runtime through Store.Apply. Every
// consumer reads a Snapshot at the moment it needs a value, so a changed
// executionDelay takes effect on the next debounce timer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Runtime names accepted by Config.Runtime.
const (
	RuntimeLocal  = "local"
	RuntimeDocker = "docker"
)

const (
	DefaultPHPPath        = "php"
	DefaultExecutionDelay = 300
	DefaultInlineColor    = "gray"
	DefaultServerHost     = "127.0.0.1"
)

// Config is the full settings tree. Field names follow the editor setting
// keys (executionDelay, phpPath, inlineColor) so the same document can be
// written as YAML or pushed as an LSP settings object.
type Config struct {
	// PHPPath is the interpreter binary, resolved through PATH when bare.
	PHPPath string `yaml:"phpPath" mapstructure:"phpPath"`
	// ExecutionDelay is the debounce window in milliseconds.
	ExecutionDelay int `yaml:"executionDelay" mapstructure:"executionDelay"`
	// InlineColor colors successful annotations. Failures are always red.
	InlineColor string `yaml:"inlineColor" mapstructure:"inlineColor"`
	// ExecutionTimeout in milliseconds; 0 lets the interpreter run forever.
	ExecutionTimeout int `yaml:"executionTimeout" mapstructure:"executionTimeout"`
	// Runtime selects the interpreter backend: "local" or "docker".
	Runtime    string `yaml:"runtime" mapstructure:"runtime"`
	ScratchDir string `yaml:"scratchDir" mapstructure:"scratchDir"`
	// HistoryPath is the sqlite file for evaluation history. Empty disables history.
	HistoryPath string `yaml:"historyPath" mapstructure:"historyPath"`
	LogLevel    string `yaml:"logLevel" mapstructure:"logLevel"`

	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Docker DockerConfig `yaml:"docker" mapstructure:"docker"`
}

// ServerConfig configures `phpinline serve`.
type ServerConfig struct {
	// Host is the listen address. Loopback unless deliberately widened.
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
	// JWTSecret enables bearer-token auth on /api. serve refuses to start
	// without it unless Insecure is set.
	JWTSecret string `yaml:"jwtSecret" mapstructure:"jwtSecret"`
	Insecure  bool   `yaml:"insecure" mapstructure:"insecure"`
}

// DockerConfig configures the docker runtime.
type DockerConfig struct {
	Image    string  `yaml:"image" mapstructure:"image"`
	MemoryMB int64   `yaml:"memoryMB" mapstructure:"memoryMB"`
	CPULimit float64 `yaml:"cpuLimit" mapstructure:"cpuLimit"`
	PoolSize int     `yaml:"poolSize" mapstructure:"poolSize"`
	// TimeoutSeconds bounds a single containerised run.
	TimeoutSeconds int `yaml:"timeoutSeconds" mapstructure:"timeoutSeconds"`
}

// Default returns the built-in settings.
func Default() Config {
	historyPath := ""
	if dir, err := os.UserCacheDir(); err == nil {
		historyPath = filepath.Join(dir, "phpinline", "history.db")
	}

	return Config{
		PHPPath:        DefaultPHPPath,
		ExecutionDelay: DefaultExecutionDelay,
		InlineColor:    DefaultInlineColor,
		Runtime:        RuntimeLocal,
		ScratchDir:     filepath.Join(os.TempDir(), "phpinline"),
		HistoryPath:    historyPath,
		LogLevel:       "info",
		Server: ServerConfig{
			Host: DefaultServerHost,
			Port: 8080,
		},
		Docker: DockerConfig{
			Image:          "php:8.3-cli-alpine",
			MemoryMB:       128,
			CPULimit:       0.5,
			PoolSize:       2,
			TimeoutSeconds: 5,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if any), and the
// environment. An empty path or a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// no file: defaults stand
		case err != nil:
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, key string) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid %s value %q", key, v)
		}
		*dst = n
		return nil
	}

	setString(&c.PHPPath, "PHPINLINE_PHP_PATH")
	setString(&c.InlineColor, "PHPINLINE_INLINE_COLOR")
	setString(&c.Runtime, "PHPINLINE_RUNTIME")
	setString(&c.ScratchDir, "PHPINLINE_SCRATCH_DIR")
	setString(&c.HistoryPath, "PHPINLINE_HISTORY_PATH", "DB_PATH")
	setString(&c.LogLevel, "PHPINLINE_LOG_LEVEL")
	setString(&c.Server.Host, "PHPINLINE_HOST")
	setString(&c.Server.JWTSecret, "PHPINLINE_JWT_SECRET", "JWT_SECRET")
	setString(&c.Docker.Image, "PHPINLINE_DOCKER_IMAGE")

	if err := setInt(&c.ExecutionDelay, "PHPINLINE_EXECUTION_DELAY"); err != nil {
		return err
	}
	if err := setInt(&c.ExecutionTimeout, "PHPINLINE_EXECUTION_TIMEOUT"); err != nil {
		return err
	}
	return setInt(&c.Server.Port, "PORT")
}

// Validate rejects settings no component can honor.
func (c Config) Validate() error {
	if strings.TrimSpace(c.PHPPath) == "" {
		return errors.New("config: phpPath must not be empty")
	}
	if c.ExecutionDelay < 0 {
		return fmt.Errorf("config: executionDelay must be >= 0, got %d", c.ExecutionDelay)
	}
	if c.ExecutionTimeout < 0 {
		return fmt.Errorf("config: executionTimeout must be >= 0, got %d", c.ExecutionTimeout)
	}
	switch c.Runtime {
	case RuntimeLocal, RuntimeDocker:
	default:
		return fmt.Errorf("config: unknown runtime %q (want %q or %q)", c.Runtime, RuntimeLocal, RuntimeDocker)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	return nil
}

// Delay is ExecutionDelay as a duration.
func (c Config) Delay() time.Duration {
	return time.Duration(c.ExecutionDelay) * time.Millisecond
}

// Timeout is ExecutionTimeout as a duration; zero means none.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.ExecutionTimeout) * time.Millisecond
}

// Color is the success annotation color, falling back to the default when the
// setting was cleared.
func (c Config) Color() string {
	if strings.TrimSpace(c.InlineColor) == "" {
		return DefaultInlineColor
	}
	return c.InlineColor
}
