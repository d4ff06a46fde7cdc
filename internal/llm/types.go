package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CompletionRequest is the input for text-completion providers.
type CompletionRequest struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        *float64
	TopK        *int
}

// Completion is the result of a text completion.
type Completion struct {
	Text         string
	StopReason   string
	Model        string
	ProviderName string
	Attempts     int
}

// Provider defines the contract for completion providers.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// Recorder receives per-call accounting from providers. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordCompletion(provider, outcome string, attempts int, duration time.Duration)
	RecordRetry(provider string, statusCode int)
}

// ClientOptions carries the ambient collaborators shared by every HTTP provider.
type ClientOptions struct {
	Retry    RetryPolicy
	Logger   *zap.Logger
	Recorder Recorder
}

// Normalize fills zero values with defaults.
func (o ClientOptions) Normalize() ClientOptions {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Retry.isZero() {
		o.Retry = DefaultRetryPolicy()
	}
	return o
}

// Outcome labels used with Recorder.RecordCompletion.
const (
	OutcomeSuccess  = "success"
	OutcomeOverload = "overload"
	OutcomeAuth     = "auth"
	OutcomeProtocol = "protocol"
	OutcomeConfig   = "config"
	OutcomeNetwork  = "network"
)

// OutcomeOf maps an error to its Recorder outcome label.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case IsOverload(err):
		return OutcomeOverload
	case IsAuth(err):
		return OutcomeAuth
	case IsConfig(err):
		return OutcomeConfig
	case IsTransport(err):
		return OutcomeNetwork
	case IsProtocol(err):
		return OutcomeProtocol
	default:
		return OutcomeNetwork
	}
}
