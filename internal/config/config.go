// Package config loads the limcode configuration file. Channels are named
// orchestration profiles: each picks a provider, a model, and a context
// window budget.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/mcp"
)

type Config struct {
	// Channel names the default channel used when none is requested.
	Channel  string                      `mapstructure:"channel"`
	Channels map[string]ChannelConfig    `mapstructure:"channels"`
	Provider ProviderConfig              `mapstructure:"providers"`
	Tools    ToolsConfig                 `mapstructure:"tools"`
	MCP      map[string]mcp.ServerConfig `mapstructure:"mcp"`
	Session  SessionConfig               `mapstructure:"session"`
	Debug    bool                        `mapstructure:"debug"`
}

// ChannelConfig is one orchestration profile.
type ChannelConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	Enabled  bool   `mapstructure:"enabled"`
	// SystemPrompt overrides the built-in system prompt.
	SystemPrompt string `mapstructure:"system_prompt"`
	// MaxToolIterations caps model requests per turn; -1 disables the cap.
	MaxToolIterations int `mapstructure:"max_tool_iterations"`

	// Context window budget.
	ThresholdEnabled      bool   `mapstructure:"threshold_enabled"`
	Threshold             string `mapstructure:"threshold"`
	MaxContextTokens      int    `mapstructure:"max_context_tokens"`
	ExtraCut              int    `mapstructure:"extra_cut"`
	HistoryThinkingRounds int    `mapstructure:"history_thinking_rounds"`
}

// Window converts the channel's budget fields into the window manager's
// configuration.
func (c ChannelConfig) Window() chat.WindowConfig {
	return chat.WindowConfig{
		ThresholdEnabled:      c.ThresholdEnabled,
		Threshold:             c.Threshold,
		MaxContextTokens:      c.MaxContextTokens,
		ExtraCut:              c.ExtraCut,
		HistoryThinkingRounds: c.HistoryThinkingRounds,
	}
}

type ProviderConfig struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type ToolsConfig struct {
	// AutoExecute lists tool names or glob patterns that skip the
	// confirmation gate.
	AutoExecute []string `mapstructure:"auto_execute"`
	// ShellTimeoutSecs bounds shell tool runs.
	ShellTimeoutSecs int `mapstructure:"shell_timeout_secs"`
}

type SessionConfig struct {
	// Store selects "sqlite" (default) or "memory".
	Store string `mapstructure:"store"`
	Path  string `mapstructure:"path"`
}

// GetConfigDir returns ~/.config/limcode, honoring XDG_CONFIG_HOME.
func GetConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "limcode"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	return filepath.Join(home, ".config", "limcode"), nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	viper.SetDefault("channel", "default")
	viper.SetDefault("channels.default.provider", "gemini")
	viper.SetDefault("channels.default.model", "gemini-2.5-flash")
	viper.SetDefault("channels.default.enabled", true)
	viper.SetDefault("channels.default.max_tool_iterations", 20)
	viper.SetDefault("channels.default.threshold_enabled", true)
	viper.SetDefault("channels.default.threshold", "80%")
	viper.SetDefault("channels.default.max_context_tokens", 1000000)
	viper.SetDefault("channels.default.extra_cut", 4096)
	viper.SetDefault("channels.default.history_thinking_rounds", 0)
	viper.SetDefault("tools.shell_timeout_secs", 120)
	viper.SetDefault("session.store", "sqlite")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveCredentials(&cfg.Provider)
	return &cfg, nil
}

// ChannelFor looks up a channel by name, falling back to the configured
// default when name is empty. Unknown channels are CONFIG_NOT_FOUND;
// disabled channels are CONFIG_DISABLED.
func (c *Config) ChannelFor(name string) (ChannelConfig, error) {
	if name == "" {
		name = c.Channel
	}
	channel, ok := c.Channels[strings.ToLower(name)]
	if !ok {
		return ChannelConfig{}, chat.NewError(chat.ErrConfigNotFound, "channel %q is not configured", name)
	}
	if !channel.Enabled {
		return ChannelConfig{}, chat.NewError(chat.ErrConfigDisabled, "channel %q is disabled", name)
	}
	return channel, nil
}

func resolveCredentials(p *ProviderConfig) {
	p.Anthropic.APIKey = expandEnv(p.Anthropic.APIKey)
	if p.Anthropic.APIKey == "" {
		p.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	p.Gemini.APIKey = expandEnv(p.Gemini.APIKey)
	if p.Gemini.APIKey == "" {
		p.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	p.OpenAI.APIKey = expandEnv(p.OpenAI.APIKey)
	if p.OpenAI.APIKey == "" {
		p.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// expandEnv resolves "$VAR" and "${VAR}" references in config values.
func expandEnv(value string) string {
	if strings.HasPrefix(value, "$") {
		return os.ExpandEnv(value)
	}
	return value
}
