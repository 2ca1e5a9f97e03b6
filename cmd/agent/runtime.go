package main

import (
	"context"
	"time"

	"github.com/vinayprograms/agentrun/internal/audit"
	"github.com/vinayprograms/agentrun/internal/config"
	"github.com/vinayprograms/agentrun/internal/executor"
	"github.com/vinayprograms/agentrun/internal/functions"
	"github.com/vinayprograms/agentrun/internal/llm"
	"github.com/vinayprograms/agentrun/internal/logging"
	"github.com/vinayprograms/agentrun/internal/telemetry"
)

// runtime holds the components built from configuration.
type runtime struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Provider
	store     audit.Store
	gateway   llm.Gateway
	registry  *functions.Registry

	closers []func()
}

// newRuntime wires logging, telemetry, the audit store (with optional NATS
// fan-out), the per-model gateway router and the built-in registry.
func newRuntime(ctx context.Context, cfg *config.Config, a *app) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	rt.logger = logging.New()
	rt.logger.SetOutput(a.errOut)
	rt.logger.SetLevel(level)

	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		ServiceName: "agentrun",
		Version:     version,
	})
	if err != nil {
		return nil, err
	}
	rt.telemetry = tp
	rt.closers = append(rt.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
	})

	if err := rt.openStore(); err != nil {
		rt.Close()
		return nil, err
	}

	rt.gateway = llm.NewRouter(func(model string) llm.Options {
		g := cfg.GatewayFor(model)
		return llm.Options{
			Provider:    g.Provider,
			APIKey:      g.APIKey,
			BaseURL:     g.BaseURL,
			MaxTokens:   g.MaxTokens,
			Temperature: g.Temperature,
		}
	})
	rt.registry = functions.NewBuiltinRegistry()
	return rt, nil
}

func (rt *runtime) openStore() error {
	store, err := audit.Open(rt.cfg.Storage.Backend, rt.cfg.Storage.Path)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, func() { _ = store.Close() })
	rt.store = store

	if url := rt.cfg.Events.NATSURL; url != "" {
		log := rt.logger.WithComponent("events")
		pub, drain, err := audit.ConnectNATS(store, url, rt.cfg.Events.SubjectPrefix, func(err error) {
			log.Warn("audit_publish_failed", map[string]interface{}{"error": err.Error()})
		})
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, drain)
		rt.store = pub
	}
	return nil
}

// executorOptions translates [runner] settings.
func (rt *runtime) executorOptions() []executor.Option {
	return []executor.Option{
		executor.WithMaxIterations(rt.cfg.Runner.MaxIterations),
		executor.WithToolConcurrency(rt.cfg.Runner.ToolConcurrency),
		executor.WithDefaultModel(rt.cfg.Runner.DefaultModel),
		executor.WithStore(rt.store),
		executor.WithTracer(rt.telemetry.Tracer()),
		executor.WithLogger(rt.logger),
	}
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
