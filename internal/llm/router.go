package llm

import (
	"context"
	"sync"
)

// Router is a Gateway that picks a provider gateway per model. Gateways
// are built on first use and cached.
type Router struct {
	resolve func(model string) Options
	build   func(Options) (Gateway, error)

	mu       sync.Mutex
	gateways map[string]Gateway
}

// NewRouter creates a router. resolve returns the settings for a model; an
// empty Provider is inferred from the model name.
func NewRouter(resolve func(model string) Options) *Router {
	return &Router{resolve: resolve, build: New, gateways: make(map[string]Gateway)}
}

// Call implements Gateway.
func (r *Router) Call(ctx context.Context, model string, messages []Message, tools []ToolDef) (*Response, error) {
	g, err := r.gateway(model)
	if err != nil {
		return nil, err
	}
	return g.Call(ctx, model, messages, tools)
}

func (r *Router) gateway(model string) (Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gateways[model]; ok {
		return g, nil
	}
	opts := r.resolve(model)
	if opts.Provider == "" {
		opts.Provider = InferProvider(model)
	}
	g, err := r.build(opts)
	if err != nil {
		return nil, err
	}
	r.gateways[model] = g
	return g, nil
}
