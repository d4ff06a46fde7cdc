package openai

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

// Provider implements an OpenAI-compatible legacy completions client.
type Provider struct {
	name    string
	client  *http.Client
	baseURL string
	apiKey  string
	opts    llm.ClientOptions
}

// NewProvider constructs a Provider with sane defaults.
func NewProvider(name, baseURL, apiKey string, timeout time.Duration, opts llm.ClientOptions) *Provider {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Provider{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		opts:    opts.Normalize(),
	}
}

// Name returns provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Complete executes a non-streaming text completion.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	start := time.Now()
	out, attempts, err := p.complete(ctx, req)
	if p.opts.Recorder != nil {
		p.opts.Recorder.RecordCompletion(p.name, llm.OutcomeOf(err), attempts, time.Since(start))
	}
	if err != nil {
		p.opts.Logger.Warn("completion failed", zap.String("provider", p.name), zap.Error(err))
	}
	return out, err
}

func (p *Provider) complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, int, error) {
	if req.Model == "" {
		return llm.Completion{}, 0, &llm.ConfigError{Provider: p.name, Msg: "model is required"}
	}

	payload, err := json.Marshal(completionRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return llm.Completion{}, 0, fmt.Errorf("marshal request: %w", err)
	}

	policy := p.opts.Retry
	policy.OnRetry = func(attempt, statusCode int, wait time.Duration) {
		p.opts.Logger.Info("provider overloaded, retrying",
			zap.String("provider", p.name), zap.Int("status", statusCode), zap.Duration("wait", wait))
		if p.opts.Recorder != nil {
			p.opts.Recorder.RecordRetry(p.name, statusCode)
		}
	}

	res, attempts, err := policy.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("User-Agent", version.UserAgent())
		if p.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
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

	var resp completionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return llm.Completion{}, attempts, &llm.ProtocolError{Provider: p.name, StatusCode: res.StatusCode, Body: string(raw), Err: err}
	}
	if len(resp.Choices) == 0 {
		return llm.Completion{}, attempts, &llm.ProtocolError{Provider: p.name, StatusCode: res.StatusCode, Body: string(raw), Err: fmt.Errorf("empty choices")}
	}

	return llm.Completion{
		Text:         strings.TrimSpace(resp.Choices[0].Text),
		StopReason:   resp.Choices[0].FinishReason,
		Model:        req.Model,
		ProviderName: p.name,
		Attempts:     attempts,
	}, attempts, nil
}

type completionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature"`
	TopP        *float64 `json:"top_p,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Index        int    `json:"index"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
