package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/masbolt/masbolt/internal/llm"
	"github.com/masbolt/masbolt/internal/version"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
	defaultModel   = "claude-2"
	defaultTokens  = 2000
)

// Provider calls the Anthropic text completion endpoint.
type Provider struct {
	name    string
	client  *http.Client
	baseURL string
	apiKey  string
	version string
	opts    llm.ClientOptions
}

// NewProvider constructs a Provider. An empty apiKey is accepted here and reported on the first call.
func NewProvider(name, baseURL, apiKey, version string, timeout time.Duration, opts llm.ClientOptions) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if version == "" {
		version = defaultVersion
	}
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	opts = opts.Normalize()

	return &Provider{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		version: version,
		opts:    opts,
	}
}

// Name returns provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Complete sends a single prompt and returns the trimmed completion text.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	start := time.Now()
	out, attempts, err := p.complete(ctx, req)
	if p.opts.Recorder != nil {
		p.opts.Recorder.RecordCompletion(p.name, llm.OutcomeOf(err), attempts, time.Since(start))
	}
	if err != nil {
		p.opts.Logger.Warn("completion failed",
			zap.String("provider", p.name),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return llm.Completion{}, err
	}
	return out, nil
}

func (p *Provider) complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, int, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return llm.Completion{}, 0, &llm.ConfigError{Provider: p.name, Msg: "API key not configured"}
	}

	body := completeRequest{
		Prompt:            "\n\nHuman: " + req.Prompt + "\n\nAssistant:",
		Model:             req.Model,
		MaxTokensToSample: req.MaxTokens,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		TopK:              req.TopK,
	}
	if body.Model == "" {
		body.Model = defaultModel
	}
	if body.MaxTokensToSample <= 0 {
		body.MaxTokensToSample = defaultTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Completion{}, 0, fmt.Errorf("marshal request: %w", err)
	}

	policy := p.opts.Retry
	policy.OnRetry = func(attempt, statusCode int, wait time.Duration) {
		p.opts.Logger.Info("provider overloaded, retrying",
			zap.String("provider", p.name),
			zap.Int("status", statusCode),
			zap.Int("retry", attempt),
			zap.Duration("wait", wait),
		)
		if p.opts.Recorder != nil {
			p.opts.Recorder.RecordRetry(p.name, statusCode)
		}
	}

	res, attempts, err := policy.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/complete", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("User-Agent", version.UserAgent())
		httpReq.Header.Set("x-api-key", p.apiKey)
		httpReq.Header.Set("anthropic-version", p.version)

		p.opts.Logger.Debug("sending completion request",
			zap.String("provider", p.name),
			zap.String("model", body.Model),
			zap.Int("prompt_bytes", len(body.Prompt)),
		)
		res, err := p.client.Do(httpReq)
		if err != nil {
			return nil, llm.TransportError(p.name, err)
		}
		return res, nil
	})
	if err != nil {
		return llm.Completion{}, attempts, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return llm.Completion{}, attempts, fmt.Errorf("read response: %w", err)
	}

	if err := llm.StatusError(p.name, res.StatusCode, attempts, raw); err != nil {
		return llm.Completion{}, attempts, err
	}

	var resp completeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return llm.Completion{}, attempts, &llm.ProtocolError{
			Provider: p.name, StatusCode: res.StatusCode, Body: string(raw), Err: fmt.Errorf("decode response: %w", err),
		}
	}
	if resp.Completion == nil {
		return llm.Completion{}, attempts, &llm.ProtocolError{
			Provider: p.name, StatusCode: res.StatusCode, Body: string(raw), Err: fmt.Errorf("response has no completion field"),
		}
	}

	model := resp.Model
	if model == "" {
		model = body.Model
	}
	return llm.Completion{
		Text:         strings.TrimSpace(*resp.Completion),
		StopReason:   resp.StopReason,
		Model:        model,
		ProviderName: p.name,
		Attempts:     attempts,
	}, attempts, nil
}

type completeRequest struct {
	Prompt            string   `json:"prompt"`
	Model             string   `json:"model"`
	MaxTokensToSample int      `json:"max_tokens_to_sample"`
	Temperature       float64  `json:"temperature"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
}

type completeResponse struct {
	Completion *string `json:"completion"`
	StopReason string  `json:"stop_reason"`
	Model      string  `json:"model"`
}
