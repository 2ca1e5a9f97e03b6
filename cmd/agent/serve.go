package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vinayprograms/agentrun/internal/server"
)

func (c *ServeCmd) Run(a *app) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	if c.WorkspaceDir != "" {
		cfg.Server.WorkspaceDir = c.WorkspaceDir
	}
	if c.Watch {
		cfg.Server.Watch = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, a)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.New(server.Options{
		Gateway:        rt.gateway,
		Registry:       rt.registry,
		Store:          rt.store,
		TracerProvider: rt.telemetry.TracerProvider(),
		Logger:         rt.logger,
		ExecutorOpts:   rt.executorOptions(),
	})

	if dir := cfg.Server.WorkspaceDir; dir != "" {
		n, err := srv.LoadDir(dir)
		if err != nil {
			return err
		}
		rt.logger.Info("workspaces_loaded", map[string]interface{}{"dir": dir, "count": n})
		if cfg.Server.Watch {
			if err := srv.Watch(ctx, dir); err != nil {
				return err
			}
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	rt.logger.Info("server_shutdown", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
