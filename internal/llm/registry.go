package llm

import (
	"fmt"
	"sort"
)

// ModelRoute binds a logical model to a provider and the generation parameters sent with it.
type ModelRoute struct {
	Name        string
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        *float64
	TopK        *int
}

// Registry maps logical model names to routes and provider names to completion clients.
// It is filled once at startup and read concurrently afterwards.
type Registry struct {
	providers    map[string]Provider
	models       map[string]ModelRoute
	defaultModel string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		models:    make(map[string]ModelRoute),
	}
}

// RegisterProvider adds a completion client under name.
func (r *Registry) RegisterProvider(name string, p Provider) {
	r.providers[name] = p
}

// RegisterModel adds a route. The first model registered is the default until one is marked.
func (r *Registry) RegisterModel(name string, route ModelRoute, isDefault bool) {
	route.Name = name
	r.models[name] = route
	if isDefault || r.defaultModel == "" {
		r.defaultModel = name
	}
}

// DefaultModel returns the name used when Resolve gets an empty model.
func (r *Registry) DefaultModel() string {
	return r.defaultModel
}

// Models lists registered model names in sorted order.
func (r *Registry) Models() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the client and route for modelName, or for the default model when it is empty.
// Unknown names are reported as *ConfigError.
func (r *Registry) Resolve(modelName string) (Provider, ModelRoute, error) {
	if modelName == "" {
		modelName = r.defaultModel
	}

	route, ok := r.models[modelName]
	if !ok {
		return nil, ModelRoute{}, &ConfigError{Provider: "registry", Msg: fmt.Sprintf("model %q not registered", modelName)}
	}

	p, ok := r.providers[route.Provider]
	if !ok {
		return nil, ModelRoute{}, &ConfigError{Provider: route.Provider, Msg: fmt.Sprintf("provider not registered for model %q", modelName)}
	}

	return p, route, nil
}
