// Package config loads runtime settings from .env, an optional config file
// and RELAY_* environment variables, in that order of precedence (lowest
// first).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"relay/internal/history"
	"relay/internal/llm"
	"relay/internal/model"
)

type Config struct {
	Provider     string  `mapstructure:"provider"`
	Model        string  `mapstructure:"model"`
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	Temperature  float64 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	TokenBudget  int     `mapstructure:"token_budget"`

	// ReplyCacheTTL enables the reply cache middleware when positive.
	ReplyCacheTTL time.Duration `mapstructure:"reply_cache_ttl"`

	MaxToolIterations  int           `mapstructure:"max_tool_iterations"`
	MaxConcurrentTools int           `mapstructure:"max_concurrent_tools"`
	ToolTimeout        time.Duration `mapstructure:"tool_timeout"`
	TurnTimeout        time.Duration `mapstructure:"turn_timeout"`

	History HistoryConfig `mapstructure:"history"`
	Skills  SkillsConfig  `mapstructure:"skills"`
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`

	// MCPConfig points at an mcpServers JSON file.
	MCPConfig string `mapstructure:"mcp_config"`

	// Capabilities overrides descriptor fields, keyed by provider name.
	Capabilities        map[string]model.CapabilityOverride `mapstructure:"capabilities"`
	DisabledMiddlewares []string                            `mapstructure:"disabled_middlewares"`
}

type HistoryConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type SkillsConfig struct {
	Builtin bool `mapstructure:"builtin"`
	// Root confines the file skill; empty means unrestricted.
	Root string `mapstructure:"root"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", string(llm.ProviderOllama))
	v.SetDefault("model", "llama3.2")
	v.SetDefault("base_url", "")
	v.SetDefault("api_key", "")
	v.SetDefault("system_prompt", "")
	v.SetDefault("temperature", 0.0)
	v.SetDefault("max_tokens", 0)
	v.SetDefault("token_budget", 0)
	v.SetDefault("reply_cache_ttl", time.Duration(0))
	v.SetDefault("max_tool_iterations", 8)
	v.SetDefault("max_concurrent_tools", 4)
	v.SetDefault("tool_timeout", 30*time.Second)
	v.SetDefault("turn_timeout", 5*time.Minute)
	v.SetDefault("history.driver", history.DriverMemory)
	v.SetDefault("history.path", filepath.Join("data", "history.db"))
	v.SetDefault("skills.builtin", true)
	v.SetDefault("skills.root", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("mcp_config", "")
	v.SetDefault("disabled_middlewares", []string{})
}

// Load reads the configuration. An explicit path must exist; without one,
// relay.{yaml,json,toml} is looked up in the working directory and
// ~/.relay and may be absent.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		p, err := ExpandHome(path)
		if err != nil {
			return nil, err
		}
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", p, err)
		}
	} else {
		v.SetConfigName("relay")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".relay"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.DisabledMiddlewares = splitList(cfg.DisabledMiddlewares)
	return cfg, nil
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := llm.CapabilitiesFor(llm.Provider(c.Provider), c.Capabilities); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model must be set"))
	}
	if c.MaxToolIterations < 1 {
		errs = append(errs, fmt.Errorf("max_tool_iterations must be >= 1, got %d", c.MaxToolIterations))
	}
	if c.MaxConcurrentTools < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_tools must be >= 1, got %d", c.MaxConcurrentTools))
	}
	if c.ToolTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tool_timeout must be positive, got %s", c.ToolTimeout))
	}
	if c.TurnTimeout <= 0 {
		errs = append(errs, fmt.Errorf("turn_timeout must be positive, got %s", c.TurnTimeout))
	}
	if c.ReplyCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("reply_cache_ttl must not be negative, got %s", c.ReplyCacheTTL))
	}
	if c.MaxTokens < 0 || c.TokenBudget < 0 {
		errs = append(errs, errors.New("max_tokens and token_budget must not be negative"))
	}
	switch c.History.Driver {
	case history.DriverMemory, history.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("history.driver must be memory or sqlite, got %q", c.History.Driver))
	}
	return errors.Join(errs...)
}

// ProviderCapabilities returns the descriptor for the configured provider.
func (c *Config) ProviderCapabilities() (model.Capabilities, error) {
	return llm.CapabilitiesFor(llm.Provider(c.Provider), c.Capabilities)
}

// ExpandHome resolves a leading "~/".
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

// splitList accepts both list values and a single comma separated string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
