// Package config loads forge settings from a TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/nstogner/forge/pkg/tool/mcp"
)

// Provider names.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)

// Sandbox drivers.
const (
	SandboxDocker = "docker"
	SandboxNone   = "none"
)

// Config holds every setting of a forge process.
type Config struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	ThinkModel     string `toml:"think_model"`
	StepBound      int    `toml:"step_bound"`
	HistoryWindow  int    `toml:"history_window"`
	MaxTokens      int    `toml:"max_tokens"`
	ThinkMaxTokens int    `toml:"think_max_tokens"`
	Instructions   string `toml:"instructions"`

	Addr     string `toml:"addr"`
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`

	AnthropicBaseURL string `toml:"anthropic_base_url"`
	OpenAIBaseURL    string `toml:"openai_base_url"`

	// API keys are read from the environment only.
	GeminiAPIKey    string `toml:"-"`
	AnthropicAPIKey string `toml:"-"`
	OpenAIAPIKey    string `toml:"-"`

	Sandbox    Sandbox            `toml:"sandbox"`
	MCPServers []mcp.ServerConfig `toml:"mcp_servers"`
}

// Sandbox configures project containers.
type Sandbox struct {
	Driver    string `toml:"driver"`
	Image     string `toml:"image"`
	MemoryMB  int64  `toml:"memory_mb"`
	CPUPeriod int64  `toml:"cpu_period"`
	CPUQuota  int64  `toml:"cpu_quota"`
	Port      string `toml:"port"`
	Workdir   string `toml:"workdir"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		StepBound:      3,
		HistoryWindow:  10,
		MaxTokens:      4096,
		ThinkMaxTokens: 2048,
		Addr:           ":8080",
		DataDir:        DefaultDataDir(),
		LogLevel:       "INFO",
		Sandbox: Sandbox{
			Driver:    SandboxDocker,
			Image:     "baraich/laravel-slim",
			MemoryMB:  128,
			CPUPeriod: 10000,
			CPUQuota:  5000,
			Port:      "80",
			Workdir:   "/var/www/html",
		},
	}
}

// DefaultDataDir is ~/.forge, or .forge when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".forge"
	}
	return filepath.Join(home, ".forge")
}

// DefaultPath is the config file inside the default data directory.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.toml")
}

// Load reads the file at path over the defaults and then applies the
// environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.resolve()
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	c.GeminiAPIKey = getenv("GEMINI_API_KEY")
	c.AnthropicAPIKey = getenv("ANTHROPIC_API_KEY")
	c.OpenAIAPIKey = getenv("OPENAI_API_KEY")

	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Provider, "FORGE_PROVIDER")
	set(&c.Model, "FORGE_MODEL")
	set(&c.Addr, "FORGE_ADDR")
	set(&c.DataDir, "FORGE_DATA_DIR")
	set(&c.LogLevel, "LOG_LEVEL")
	set(&c.Sandbox.Driver, "FORGE_SANDBOX")

	if v := getenv("FORGE_STEP_BOUND"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FORGE_STEP_BOUND: %w", err)
		}
		c.StepBound = n
	}
	return nil
}

// resolve fills settings that depend on others.
func (c *Config) resolve() {
	if c.Provider == "" {
		switch {
		case c.GeminiAPIKey != "":
			c.Provider = ProviderGemini
		case c.AnthropicAPIKey != "":
			c.Provider = ProviderAnthropic
		case c.OpenAIAPIKey != "":
			c.Provider = ProviderOpenAI
		default:
			c.Provider = ProviderMock
		}
	}
	c.Provider = strings.ToLower(c.Provider)
	if c.Model == "" {
		c.Model = DefaultModel(c.Provider)
	}
	if c.ThinkModel == "" {
		c.ThinkModel = c.Model
	}
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderGemini:
		return "gemini-2.5-flash"
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	default:
		return "mock-model"
	}
}

// Validate reports settings that would prevent forge from running.
func (c *Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required for the gemini provider"))
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY environment variable is required for the anthropic provider"))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY environment variable is required for the openai provider"))
		}
	case ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	if c.StepBound < 1 {
		errs = append(errs, fmt.Errorf("step_bound must be at least 1, got %d", c.StepBound))
	}
	if c.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("history_window must not be negative, got %d", c.HistoryWindow))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	switch c.Sandbox.Driver {
	case SandboxDocker, SandboxNone:
	default:
		errs = append(errs, fmt.Errorf("unknown sandbox driver %q", c.Sandbox.Driver))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	for i, s := range c.MCPServers {
		if s.Name == "" || s.Command == "" {
			errs = append(errs, fmt.Errorf("mcp_servers[%d]: name and command are required", i))
		}
	}
	return errors.Join(errs...)
}

// DBPath is the SQLite database inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "forge.db")
}
