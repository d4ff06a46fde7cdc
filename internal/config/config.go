package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config describes the top-level application configuration loaded from YAML and ENV.
type Config struct {
	Version   string                    `mapstructure:"version"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    map[string]ModelConfig    `mapstructure:"models"`
	Strategy  StrategyConfig            `mapstructure:"strategy"`
	Pipeline  PipelineConfig            `mapstructure:"pipeline"`
	Retry     RetryConfig               `mapstructure:"retry"`
	Sandbox   SandboxConfig             `mapstructure:"sandbox"`
	Store     StoreConfig               `mapstructure:"store"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Server    ServerConfig              `mapstructure:"server"`
}

// ProviderConfig represents a completion provider such as Anthropic, an OpenAI-compatible gateway, or Ollama.
type ProviderConfig struct {
	Type    string        `mapstructure:"type"`     // anthropic, openai, ollama
	BaseURL string        `mapstructure:"base_url"` // API base URL
	APIKey  string        `mapstructure:"api_key"`  // credential; anthropic falls back to ANTHROPIC_API_KEY
	Version string        `mapstructure:"version"`  // protocol version header (anthropic)
	Timeout time.Duration `mapstructure:"timeout"`  // transport timeout
}

// ModelConfig binds a logical model name to a provider entry and model parameters.
type ModelConfig struct {
	Provider    string   `mapstructure:"provider"`
	Model       string   `mapstructure:"model"`
	Temperature float64  `mapstructure:"temperature"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	TopP        *float64 `mapstructure:"top_p"`
	TopK        *int     `mapstructure:"top_k"`
	Default     bool     `mapstructure:"default"`
}

// PipelineConfig holds generation defaults shared by the planner, coder and tester stages.
type PipelineConfig struct {
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxContextBytes int     `mapstructure:"max_context_bytes"` // 0 = whole snapshot
}

// RetryConfig controls overload retries of the completion client.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// SandboxConfig describes the project directory mirrored by the file store.
type SandboxConfig struct {
	Root          string        `mapstructure:"root"`
	AllowWrite    bool          `mapstructure:"allow_write"`
	Ignore        []string      `mapstructure:"ignore"` // gitignore-style patterns
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

// StoreConfig controls the run history database.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // console or json
	File       string `mapstructure:"file"`   // optional rotating log file
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ServerConfig describes daemon settings.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	Transport      string `mapstructure:"transport"` // connect or ndjson
}

// Load reads configuration from the provided path or defaults to configs/config.yaml.
// Environment variables override file values (prefix: MASBOLT_, dots replaced with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MASBOLT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			v.SetConfigName("config.example")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// AutomaticEnv only covers keys viper already knows; provider keys live under a map.
	for name, p := range cfg.Providers {
		if key := os.Getenv("MASBOLT_PROVIDERS_" + strings.ToUpper(name) + "_API_KEY"); key != "" {
			p.APIKey = key
		}
		if p.APIKey == "" && strings.EqualFold(p.Type, "anthropic") {
			p.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		cfg.Providers[name] = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates sensible defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 15)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("pipeline.max_tokens", 2000)
	v.SetDefault("pipeline.temperature", 0.0)
	v.SetDefault("pipeline.max_context_bytes", 0)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 8*time.Second)

	v.SetDefault("sandbox.root", ".")
	v.SetDefault("sandbox.allow_write", true)
	v.SetDefault("sandbox.ignore", []string{".git/", "node_modules/", ".masbolt/"})
	v.SetDefault("sandbox.watch_debounce", 100*time.Millisecond)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", ".masbolt/runs.db")

	v.SetDefault("strategy.default_model", "")
	v.SetDefault("strategy.planner_model", "")
	v.SetDefault("strategy.coder_model", "")
	v.SetDefault("strategy.tester_model", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.transport", "connect")
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	if len(c.Models) == 0 {
		return errors.New("at least one model must be defined")
	}

	for name, p := range c.Providers {
		switch strings.ToLower(strings.TrimSpace(p.Type)) {
		case "":
			return fmt.Errorf("provider %q must define type", name)
		case "anthropic", "openai", "ollama":
		default:
			return fmt.Errorf("provider %q has unsupported type %q", name, p.Type)
		}
	}

	var defaultFound bool
	for name, m := range c.Models {
		if m.Provider == "" {
			return fmt.Errorf("model %q must reference provider", name)
		}

		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("model %q references unknown provider %q", name, m.Provider)
		}

		if m.Temperature < 0 || m.Temperature > 1 {
			return fmt.Errorf("model %q temperature must be within [0,1]", name)
		}

		if m.MaxTokens < 0 {
			return fmt.Errorf("model %q max_tokens cannot be negative", name)
		}

		if m.Default {
			defaultFound = true
		}
	}

	if !defaultFound {
		return errors.New("at least one model should be marked as default")
	}

	if c.Pipeline.MaxTokens < 0 {
		return errors.New("pipeline.max_tokens must be >= 0")
	}
	if c.Pipeline.Temperature < 0 || c.Pipeline.Temperature > 1 {
		return errors.New("pipeline.temperature must be within [0,1]")
	}
	if c.Pipeline.MaxContextBytes < 0 {
		return errors.New("pipeline.max_context_bytes must be >= 0")
	}

	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must be >= 0")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return errors.New("retry delays must be >= 0")
	}

	if strings.TrimSpace(c.Sandbox.Root) == "" {
		return errors.New("sandbox.root must be set")
	}

	if c.Store.Enabled && strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path must be set when store.enabled is true")
	}

	for _, modelID := range []string{
		c.Strategy.DefaultModel, c.Strategy.PlannerModel, c.Strategy.CoderModel, c.Strategy.TesterModel,
	} {
		if strings.TrimSpace(modelID) == "" {
			continue
		}
		if _, ok := c.Models[modelID]; !ok {
			return fmt.Errorf("strategy references unknown model %q", modelID)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Server.Transport)) {
	case "", "connect", "ndjson":
	default:
		return fmt.Errorf("server.transport must be one of connect or ndjson, got %q", c.Server.Transport)
	}

	return nil
}
