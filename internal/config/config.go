package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// Queue contains tuning for the leased message queue. All durations are in
// seconds so they can be overridden from flat environment variables.
type Queue struct {
	VisibilityTimeout int `toml:"visibility_timeout" env:"PRESSROOM_VISIBILITY_TIMEOUT"`
	BatchSize         int `toml:"batch_size" env:"PRESSROOM_BATCH_SIZE"`
	MaxAttempts       int `toml:"max_attempts" env:"PRESSROOM_MAX_ATTEMPTS"`
	BaseRetryDelay    int `toml:"base_retry_delay" env:"PRESSROOM_BASE_RETRY_DELAY"`
	MaxRetryDelay     int `toml:"max_retry_delay" env:"PRESSROOM_MAX_RETRY_DELAY"`
}

// Pipeline declares the fixed ordered stage list for one job type and where
// its stage handlers live.
type Pipeline struct {
	JobType        string   `toml:"job_type"`
	Stages         []string `toml:"stages"`
	HandlerBaseURL string   `toml:"handler_base_url"`
}

// Config is the full daemon and CLI configuration.
type Config struct {
	DataDir        string     `toml:"data_dir" env:"PRESSROOM_DATA_DIR"`
	LogDir         string     `toml:"log_dir" env:"PRESSROOM_LOG_DIR"`
	Bind           string     `toml:"bind" env:"PRESSROOM_BIND"`
	LogLevel       string     `toml:"log_level" env:"PRESSROOM_LOG_LEVEL"`
	LogFormat      string     `toml:"log_format" env:"PRESSROOM_LOG_FORMAT"`
	HandlerTimeout int        `toml:"handler_timeout" env:"PRESSROOM_HANDLER_TIMEOUT"`
	ShutdownGrace  int        `toml:"shutdown_grace" env:"PRESSROOM_SHUTDOWN_GRACE"`
	Queue          Queue      `toml:"queue"`
	Pipelines      []Pipeline `toml:"pipelines"`
}

// DefaultConfigPath returns the conventional location of the config file.
func DefaultConfigPath() string {
	return expandHome("~/.config/pressroom/config.toml")
}

// Load reads the TOML config at path (or the default location when path is
// empty), applies environment overrides, normalizes paths, and validates the
// result. A missing file is not an error; defaults are used instead.
func Load(path string) (*Config, string, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultConfigPath()
	}
	resolved = expandHome(resolved)

	cfg := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, resolved, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// fall through with defaults
	default:
		return nil, resolved, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, resolved, fmt.Errorf("apply environment overrides: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, resolved, err
	}
	return &cfg, resolved, nil
}

// WriteSample writes the embedded sample config to path, refusing to clobber
// an existing file.
func WriteSample(path string) error {
	resolved := expandHome(strings.TrimSpace(path))
	if resolved == "" {
		resolved = DefaultConfigPath()
	}
	if _, err := os.Stat(resolved); err == nil {
		return fmt.Errorf("config file already exists: %s", resolved)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	return os.WriteFile(resolved, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the data and log directories if needed.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "pressroom.db")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "pressroomd.lock")
}

// PipelineFor returns the pipeline declaration for a job type.
func (c *Config) PipelineFor(jobType string) (Pipeline, bool) {
	for _, p := range c.Pipelines {
		if p.JobType == jobType {
			return p, true
		}
	}
	return Pipeline{}, false
}

func (c *Config) normalize() {
	c.DataDir = expandHome(strings.TrimSpace(c.DataDir))
	c.LogDir = expandHome(strings.TrimSpace(c.LogDir))
	if c.LogDir == "" && c.DataDir != "" {
		c.LogDir = filepath.Join(c.DataDir, "logs")
	}
	c.Bind = strings.TrimSpace(c.Bind)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if len(c.Pipelines) == 0 {
		c.Pipelines = defaultPipelines()
	}
	for i := range c.Pipelines {
		c.Pipelines[i].JobType = strings.TrimSpace(c.Pipelines[i].JobType)
		c.Pipelines[i].HandlerBaseURL = strings.TrimRight(strings.TrimSpace(c.Pipelines[i].HandlerBaseURL), "/")
		stages := make([]string, 0, len(c.Pipelines[i].Stages))
		for _, stage := range c.Pipelines[i].Stages {
			trimmed := strings.ToLower(strings.TrimSpace(stage))
			if trimmed != "" {
				stages = append(stages, trimmed)
			}
		}
		c.Pipelines[i].Stages = stages
	}
}

func expandHome(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
