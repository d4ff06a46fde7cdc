package configbuilder

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/masbolt/masbolt/internal/config"
	"github.com/masbolt/masbolt/internal/llm"
	llmanthropic "github.com/masbolt/masbolt/internal/llm/providers/anthropic"
	llmollama "github.com/masbolt/masbolt/internal/llm/providers/ollama"
	llmopenai "github.com/masbolt/masbolt/internal/llm/providers/openai"
)

// Options carries collaborators handed to every provider.
type Options struct {
	Logger   *zap.Logger
	Recorder llm.Recorder
}

// BuildRegistryFromConfig constructs a registry and providers from config.
func BuildRegistryFromConfig(cfg *config.Config, opts Options) (*llm.Registry, error) {
	reg := llm.NewRegistry()

	clientOpts := llm.ClientOptions{
		Retry:    retryPolicy(cfg.Retry),
		Logger:   opts.Logger,
		Recorder: opts.Recorder,
	}

	for name, pCfg := range cfg.Providers {
		p, err := buildProvider(name, pCfg, clientOpts)
		if err != nil {
			return nil, err
		}
		reg.RegisterProvider(name, p)
	}

	for name, mCfg := range cfg.Models {
		reg.RegisterModel(name, llm.ModelRoute{
			Provider:    mCfg.Provider,
			Model:       mCfg.Model,
			Temperature: mCfg.Temperature,
			MaxTokens:   mCfg.MaxTokens,
			TopP:        mCfg.TopP,
			TopK:        mCfg.TopK,
		}, mCfg.Default)
	}

	if _, _, err := reg.Resolve(""); err != nil {
		return nil, err
	}

	return reg, nil
}

func retryPolicy(cfg config.RetryConfig) llm.RetryPolicy {
	p := llm.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 || cfg.BaseDelay > 0 || cfg.MaxDelay > 0 {
		p.MaxRetries = cfg.MaxRetries
		if cfg.BaseDelay > 0 {
			p.BaseDelay = cfg.BaseDelay
		}
		if cfg.MaxDelay > 0 {
			p.MaxDelay = cfg.MaxDelay
		}
	}
	return p
}

func buildProvider(name string, cfg config.ProviderConfig, opts llm.ClientOptions) (llm.Provider, error) {
	switch strings.ToLower(cfg.Type) {
	case "anthropic":
		return llmanthropic.NewProvider(name, cfg.BaseURL, cfg.APIKey, cfg.Version, cfg.Timeout, opts), nil
	case "openai":
		return llmopenai.NewProvider(name, cfg.BaseURL, cfg.APIKey, cfg.Timeout, opts), nil
	case "ollama":
		return llmollama.NewProvider(name, cfg.BaseURL, cfg.Timeout, opts), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q for provider %s", cfg.Type, name)
	}
}
