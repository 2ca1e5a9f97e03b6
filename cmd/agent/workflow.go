package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vinayprograms/agentrun/internal/executor"
	"github.com/vinayprograms/agentrun/internal/functions"
	"github.com/vinayprograms/agentrun/internal/workspace"
)

// loadWorkspace reads and validates a workspace file, then binds its
// catalog to reg.
func loadWorkspace(path string, reg *functions.Registry) (*workspace.Workspace, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s not found", path)
	}
	ws, err := workspace.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := workspace.Bind(ws, reg); err != nil {
		return nil, err
	}
	return ws, nil
}

func (c *RunCmd) Run(a *app) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, a)
	if err != nil {
		return err
	}
	defer rt.Close()

	ws, err := loadWorkspace(c.File, rt.registry)
	if err != nil {
		return err
	}

	exec := executor.New(ws, rt.gateway, rt.registry, rt.executorOptions()...)
	res, runErr := exec.Run(ctx, c.Input)

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(a.errOut, "warning: %s\n", w)
	}

	if runErr != nil {
		return runErr
	}
	if res.Status != executor.StatusCompleted {
		return fmt.Errorf("run %s ended %s", res.RunID, res.Status)
	}
	return nil
}

func (c *ValidateCmd) Run(a *app) error {
	ws, err := loadWorkspace(c.File, functions.NewBuiltinRegistry())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "✓ %s is valid\n", c.File)
	fmt.Fprintf(a.out, "  workspace: %s", ws.Name)
	if ws.Version != "" {
		fmt.Fprintf(a.out, " (%s)", ws.Version)
	}
	fmt.Fprintln(a.out)
	fmt.Fprintf(a.out, "  steps:     %s\n", strings.Join(ws.Chain(), " → "))
	if len(ws.FuncOrder) > 0 {
		fmt.Fprintf(a.out, "  functions: %s\n", strings.Join(ws.FuncOrder, ", "))
	}
	return nil
}
