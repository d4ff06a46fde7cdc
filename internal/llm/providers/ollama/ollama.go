package ollama

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

// Provider implements a minimal Ollama generate client.
type Provider struct {
	name    string
	client  *http.Client
	baseURL string
	opts    llm.ClientOptions
}

// NewProvider constructs an Ollama provider.
func NewProvider(name, baseURL string, timeout time.Duration, opts llm.ClientOptions) *Provider {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Provider{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts.Normalize(),
	}
}

// Name returns provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Complete executes a non-streaming generate call.
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

	options := map[string]interface{}{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.TopP != nil {
		options["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		options["top_k"] = *req.TopK
	}

	payload, err := json.Marshal(generateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return llm.Completion{}, 0, fmt.Errorf("marshal request: %w", err)
	}

	policy := p.opts.Retry
	policy.OnRetry = func(attempt, statusCode int, wait time.Duration) {
		if p.opts.Recorder != nil {
			p.opts.Recorder.RecordRetry(p.name, statusCode)
		}
	}

	res, attempts, err := policy.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("User-Agent", version.UserAgent())
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

	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return llm.Completion{}, attempts, &llm.ProtocolError{Provider: p.name, StatusCode: res.StatusCode, Body: string(raw), Err: err}
	}

	return llm.Completion{
		Text:         strings.TrimSpace(resp.Response),
		StopReason:   resp.DoneReason,
		Model:        req.Model,
		ProviderName: p.name,
		Attempts:     attempts,
	}, attempts, nil
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
}
