package mock

import (
	"context"
	"sync"

	"github.com/masbolt/masbolt/internal/llm"
)

// Provider is a test double implementing llm.Provider.
type Provider struct {
	NameValue  string
	CompleteFn func(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error)

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

func (p *Provider) Name() string {
	if p.NameValue != "" {
		return p.NameValue
	}
	return "mock"
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.CompleteFn != nil {
		return p.CompleteFn(ctx, req)
	}
	return llm.Completion{Text: "mock", ProviderName: p.Name(), Model: req.Model, Attempts: 1}, nil
}

// Requests returns a copy of every request received so far.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.requests...)
}

// Script returns a CompleteFn that answers with the given texts/errors in call order.
// Calls past the end of the script repeat the last entry.
func Script(steps ...Step) func(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	var (
		mu   sync.Mutex
		next int
	)
	return func(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
		mu.Lock()
		idx := next
		if next < len(steps)-1 {
			next++
		}
		mu.Unlock()
		if len(steps) == 0 {
			return llm.Completion{Text: "mock"}, nil
		}
		s := steps[idx]
		if s.Err != nil {
			return llm.Completion{}, s.Err
		}
		return llm.Completion{Text: s.Text, Model: req.Model, Attempts: 1}, nil
	}
}

// Step is one scripted completion outcome.
type Step struct {
	Text string
	Err  error
}
