package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultStatePath is where the session store lives when nothing overrides it.
const DefaultStatePath = ".rlm/state/state.db"

// DefaultMaxOutputChars bounds each of the captured stdout/stderr streams.
const DefaultMaxOutputChars = 8000

// Config holds all rlm configuration.
type Config struct {
	// StatePath is the session store locator.
	StatePath string `yaml:"state_path"`

	// MaxOutputChars truncates captured stdout and stderr independently.
	MaxOutputChars int `yaml:"max_output_chars"`

	// WarnDropped reports variables that could not be persisted.
	WarnDropped bool `yaml:"warn_dropped"`

	Exec    ExecutionConfig `yaml:"exec"`
	Chunks  ChunkConfig     `yaml:"chunks"`
	World   WorldConfig     `yaml:"world"`
	Logging LoggingConfig   `yaml:"logging"`
}

// ChunkConfig holds the defaults used by the chunk export command.
type ChunkConfig struct {
	Size    int    `yaml:"size"`
	Overlap int    `yaml:"overlap"`
	Prefix  string `yaml:"prefix"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		StatePath:      DefaultStatePath,
		MaxOutputChars: DefaultMaxOutputChars,
		Exec:           DefaultExecutionConfig(),
		Chunks: ChunkConfig{
			Size:    200000,
			Overlap: 0,
			Prefix:  "chunk",
		},
		World: DefaultWorldConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// A .env file in the working directory is read first; variables already set
// in the process environment win over it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("RLM_STATE"); path != "" {
		c.StatePath = path
	}
	if raw := os.Getenv("RLM_MAX_OUTPUT_CHARS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			c.MaxOutputChars = n
		}
	}
	if raw := os.Getenv("RLM_EXEC_TIMEOUT"); raw != "" {
		c.Exec.Timeout = raw
	}
	if raw := os.Getenv("RLM_DEBUG"); raw != "" {
		if on, err := strconv.ParseBool(raw); err == nil {
			c.Logging.DebugMode = on
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StatePath == "" {
		return fmt.Errorf("state_path must not be empty")
	}
	if c.MaxOutputChars < 0 {
		return fmt.Errorf("max_output_chars must be >= 0, got %d", c.MaxOutputChars)
	}
	if c.Chunks.Size <= 0 {
		return fmt.Errorf("chunks.size must be > 0, got %d", c.Chunks.Size)
	}
	if c.Chunks.Overlap < 0 || c.Chunks.Overlap >= c.Chunks.Size {
		return fmt.Errorf("chunks.overlap must be in [0, %d), got %d", c.Chunks.Size, c.Chunks.Overlap)
	}
	if _, err := time.ParseDuration(c.Exec.Timeout); c.Exec.Timeout != "" && err != nil {
		return fmt.Errorf("invalid exec.timeout %q: %w", c.Exec.Timeout, err)
	}
	return nil
}

// ChunksDir returns the directory reset clears alongside the state file.
func (c *Config) ChunksDir() string {
	return filepath.Join(filepath.Dir(c.StatePath), "chunks")
}
